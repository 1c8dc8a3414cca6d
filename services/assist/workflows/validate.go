// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package workflows

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

var structValidator = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(jsonTagName)
	return v
}

// jsonTagName reports fields by their JSON name.
func jsonTagName(f reflect.StructField) string {
	name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
	switch name {
	case "-":
		return ""
	case "":
		return f.Name
	}
	return name
}

// InvalidRequestError lists request fields that failed validation.
type InvalidRequestError struct {
	Problems []string
}

func (e *InvalidRequestError) Error() string {
	return "invalid request: " + strings.Join(e.Problems, "; ")
}

func validateStruct(v any) error {
	verrs, err := fieldErrors(v)
	if err != nil {
		return &InvalidRequestError{Problems: []string{err.Error()}}
	}
	if len(verrs) == 0 {
		return nil
	}
	problems := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		problems = append(problems, describeFieldError(fe))
	}
	return &InvalidRequestError{Problems: problems}
}

// fieldErrors runs the validator and returns its field errors, or an
// error when v could not be validated at all.
func fieldErrors(v any) (validator.ValidationErrors, error) {
	err := structValidator.Struct(v)
	if err == nil {
		return nil, nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		return verrs, nil
	}
	return nil, err
}

// fieldPath strips the root struct name from a validator namespace.
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if _, rest, ok := strings.Cut(ns, "."); ok {
		return rest
	}
	return ns
}

func describeFieldError(fe validator.FieldError) string {
	path := fieldPath(fe)
	switch fe.Tag() {
	case "required":
		return "missing required field: " + path
	case "min":
		if fe.Kind() == reflect.String {
			return fmt.Sprintf("%s is too short (minimum %s characters)", path, fe.Param())
		}
		return fmt.Sprintf("%s needs at least %s entries", path, fe.Param())
	case "max":
		return fmt.Sprintf("%s exceeds the maximum of %s", path, fe.Param())
	case "url":
		return path + " is not a valid URL"
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", path, fe.Param())
	default:
		return fmt.Sprintf("%s failed %q validation", path, fe.Tag())
	}
}
