package pipeline

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/gdgeek/3D-Model-Optimizer/pipeline/draco"
	"github.com/gdgeek/3D-Model-Optimizer/pipeline/simplify"
	"github.com/gdgeek/3D-Model-Optimizer/pipeline/texture"
)

// validate is the shared struct validator. Field names in reported errors
// follow the json tags so they match the configuration surface.
var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// checkStruct runs tag validation over a step's option struct and converts
// the first violation into an InvalidOptions error.
func checkStruct(step string, opts any) *Error {
	err := validate.Struct(opts)
	if err == nil {
		return nil
	}
	errs, ok := err.(validator.ValidationErrors)
	if !ok || len(errs) == 0 {
		return &Error{Kind: KindInvalidOptions, Step: step, Err: err}
	}
	fe := errs[0]
	return invalidOptions(step, fe.Field(), expectedFromTag(fe), fe.Value())
}

// expectedFromTag renders a validator tag as a human-readable range.
func expectedFromTag(fe validator.FieldError) string {
	switch fe.Tag() {
	case "gt":
		return "> " + fe.Param()
	case "gte":
		return ">= " + fe.Param()
	case "lt":
		return "< " + fe.Param()
	case "lte":
		return "<= " + fe.Param()
	case "oneof":
		return "one of [" + fe.Param() + "]"
	default:
		return fe.Tag()
	}
}

// validateSimplify enforces the simplify option contract: numeric ranges via
// tags plus the exactly-one-target cross-field rule.
func validateSimplify(opts simplify.Options) *Error {
	if opts.TargetRatio != nil && opts.TargetCount != nil {
		return invalidOptions("simplify", "targetRatio",
			"exactly one of targetRatio and targetCount",
			fmt.Sprintf("both (targetRatio=%v, targetCount=%v)", *opts.TargetRatio, *opts.TargetCount))
	}
	if opts.TargetRatio == nil && opts.TargetCount == nil {
		return invalidOptions("simplify", "targetRatio",
			"exactly one of targetRatio and targetCount", nil)
	}
	return checkStruct("simplify", opts)
}

// validateDraco enforces the draco numeric ranges.
func validateDraco(opts draco.Options) *Error {
	return checkStruct("draco", opts)
}

// validateTexture enforces the texture mode enum and the mode-dependent
// quality range: ETC1S 1-255, UASTC 0-4.
func validateTexture(opts texture.Options) *Error {
	if err := checkStruct("texture", opts); err != nil {
		return err
	}
	if opts.Quality == nil {
		return nil
	}
	q := *opts.Quality
	if opts.EffectiveMode() == texture.ModeUASTC {
		if q < 0 || q > 4 {
			return invalidOptions("texture", "quality", "0 to 4 for UASTC", q)
		}
		return nil
	}
	if q < 1 || q > 255 {
		return invalidOptions("texture", "quality", "1 to 255 for ETC1S", q)
	}
	return nil
}
