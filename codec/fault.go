package codec

import (
	stderrors "errors"
	"strconv"

	"github.com/dop251/goja"

	"github.com/wippyai/js-bridge/errors"
)

// Fault translates an error raised while running host code into a bridge
// error. Bridge errors thrown through the script come back unchanged, so a
// failure keeps its original kind across nested calls. Anything the script
// raised itself becomes ForeignFault with the script's diagnostic text.
func Fault(path []string, err error) error {
	if err == nil {
		return nil
	}

	var be *errors.Error
	if stderrors.As(err, &be) {
		return errors.AtPath(be, path...)
	}

	var interrupted *goja.InterruptedError
	if stderrors.As(err, &interrupted) {
		return errors.ForeignFault(path, interrupted.Error(), err)
	}

	var exc *goja.Exception
	if stderrors.As(err, &exc) {
		return errors.ForeignFault(path, diagnostic(exc), err)
	}

	return errors.ForeignFault(path, err.Error(), err)
}

func diagnostic(exc *goja.Exception) string {
	if v := exc.Value(); v != nil {
		if obj, ok := v.(*goja.Object); ok {
			if stack := obj.Get("stack"); stack != nil && !goja.IsUndefined(stack) {
				if s := stack.String(); s != "" {
					return s
				}
			}
		}
		return v.String()
	}
	return exc.Error()
}

func argName(i int) string {
	return "arg" + strconv.Itoa(i)
}
