package handlers

import (
	"errors"
	"reflect"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"github.com/tbourn/canteen-backend/internal/domain"
)

var registerOnce sync.Once

// RegisterValidators installs the custom binding tags on Gin's validator:
//
//	isodate  a calendar date in YYYY-MM-DD form
//
// It is safe to call more than once.
func RegisterValidators() {
	registerOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		// Report fields by their wire names.
		v.RegisterTagNameFunc(func(f reflect.StructField) string {
			for _, tag := range []string{"json", "form"} {
				if name := strings.SplitN(f.Tag.Get(tag), ",", 2)[0]; name != "" && name != "-" {
					return name
				}
			}
			return f.Name
		})
		if err := v.RegisterValidation("isodate", func(fl validator.FieldLevel) bool {
			_, err := time.Parse(domain.DateLayout, fl.Field().String())
			return err == nil
		}); err != nil {
			panic(err)
		}
	})
}

// bindMessage renders a binding failure as "invalid field(s): a (required), b (isodate)".
func bindMessage(err error) string {
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		return "invalid request"
	}
	parts := make([]string, 0, len(ve))
	for _, fe := range ve {
		parts = append(parts, fe.Field()+" ("+fe.Tag()+")")
	}
	sort.Strings(parts)
	return "invalid field(s): " + strings.Join(parts, ", ")
}
