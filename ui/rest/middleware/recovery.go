package middleware

import (
	"fmt"

	pkgError "github.com/AzielCF/az-recruit/pkg/error"
	"github.com/AzielCF/az-recruit/pkg/utils"
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

// Recovery turns a handler panic into a JSON error response. Panics carrying
// a GenericError keep its status and code.
func Recovery() fiber.Handler {
	return func(ctx *fiber.Ctx) (err error) {
		defer func() {
			r := recover()
			if r == nil {
				return
			}
			res := utils.ResponseData{
				Status:  fiber.StatusInternalServerError,
				Code:    "INTERNAL_SERVER_ERROR",
				Message: fmt.Sprintf("%v", r),
			}
			logrus.WithField("path", ctx.Path()).Errorf("[REST] Panic recovered: %v", r)

			if generic, ok := r.(pkgError.GenericError); ok {
				res.Status = generic.StatusCode()
				res.Code = generic.ErrCode()
				res.Message = generic.Error()
			}
			err = ctx.Status(res.Status).JSON(res)
		}()

		return ctx.Next()
	}
}

// ErrorHandler renders errors returned by handlers in the same envelope.
func ErrorHandler(ctx *fiber.Ctx, err error) error {
	res := utils.ResponseData{
		Status:  fiber.StatusInternalServerError,
		Code:    "INTERNAL_SERVER_ERROR",
		Message: err.Error(),
	}
	switch e := err.(type) {
	case pkgError.GenericError:
		res.Status = e.StatusCode()
		res.Code = e.ErrCode()
	case *fiber.Error:
		res.Status = e.Code
		res.Code = "HTTP_ERROR"
	}
	if res.Status >= fiber.StatusInternalServerError {
		logrus.WithError(err).Errorf("[REST] %s %s failed", ctx.Method(), ctx.Path())
	}
	return ctx.Status(res.Status).JSON(res)
}
