package config

import (
	"errors"
	"fmt"
	"net/url"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Validate checks field constraints and that Server is a websocket URL.
func (c *Config) Validate() error {
	validate := validator.New()
	validate.RegisterTagNameFunc(envName)
	if err := validate.Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			msgs := make([]string, 0, len(fieldErrs))
			for _, fe := range fieldErrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Field(), fe.Tag()))
			}
			return fmt.Errorf("%w: %s", ErrConfiguration, strings.Join(msgs, ", "))
		}
		return fmt.Errorf("%w: %v", ErrConfiguration, err)
	}

	u, err := url.Parse(c.Server)
	if err != nil {
		return fmt.Errorf("%w: SERVER: %v", ErrConfiguration, err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("%w: SERVER must use ws or wss, got %q", ErrConfiguration, u.Scheme)
	}
	return nil
}

// envName reports fields by their environment variable name.
func envName(f reflect.StructField) string {
	name, _, _ := strings.Cut(f.Tag.Get("mapstructure"), ",")
	if name == "" || name == "-" {
		return f.Name
	}
	return strings.ToUpper(name)
}
