// VeloSync - Cycling Activity Sync and Metrics for Home Automation
// Copyright 2026 VeloSync Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/velohome/velosync

package api

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// validateStruct validates a request struct against its validate tags.
// The validator instance caches struct metadata, so it is shared.
func validateStruct(s interface{}) error {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})

	err := validate.Struct(s)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}

	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("%s failed %s validation", strings.ToLower(fe.Field()), fe.Tag()))
	}
	return fmt.Errorf("%s", strings.Join(parts, "; "))
}
