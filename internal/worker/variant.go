package worker

import (
	"context"

	"github.com/crunchdao/model-runner-orchestrator/internal/workerrpc"
)

// Variant tags the polymorphic handle kinds sharing the lifecycle
// controller in this package: Basic sends an empty Setup request, while
// DynamicSubclass sends Setup(className, args, kwargs) before declaring
// the worker ready (grounded on
// dynamic_subclass_model_runnner.py in the system this package models).
type Variant int

const (
	VariantBasic Variant = iota
	VariantDynamicSubclass
)

func (v Variant) String() string {
	switch v {
	case VariantDynamicSubclass:
		return "dynamic_subclass"
	default:
		return "basic"
	}
}

// DynamicSubclassSpec carries the extra constructor arguments a
// DynamicSubclass handle sends during setup.
type DynamicSubclassSpec struct {
	ClassName string
	Args      []workerrpc.Argument
	Kwargs    []workerrpc.KwArgument
}

func setupRequestFor(variant Variant, spec DynamicSubclassSpec) workerrpc.SetupRequest {
	if variant != VariantDynamicSubclass {
		return workerrpc.SetupRequest{}
	}
	return workerrpc.SetupRequest{
		ClassName: spec.ClassName,
		Args:      spec.Args,
		Kwargs:    spec.Kwargs,
	}
}

// runSetup performs the variant-specific setup call against an
// already-connected worker channel.
func runSetup(ctx context.Context, rpc *workerrpc.Client, variant Variant, spec DynamicSubclassSpec) (workerrpc.SetupResponse, error) {
	return rpc.Setup(ctx, setupRequestFor(variant, spec))
}
