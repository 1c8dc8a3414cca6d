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
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/AleutianAI/SectorWiki/services/assist/extract"
	"github.com/AleutianAI/SectorWiki/services/assist/persona"
	"github.com/AleutianAI/SectorWiki/services/llm"
)

// VendorRequest asks for suppliers of an equipment class.
type VendorRequest struct {
	EquipmentClass string `json:"equipment_class" validate:"required"`
	Sector         string `json:"sector,omitempty"`
	Region         string `json:"region,omitempty"`
}

// Vendor is one supplier.
type Vendor struct {
	Name     string   `json:"name"`
	Country  string   `json:"country"`
	Products []string `json:"products"`
	URL      string   `json:"url"`
	Notes    string   `json:"notes"`
}

// VendorResult is the outcome of SourceVendors.
type VendorResult struct {
	EquipmentClass string   `json:"equipment_class"`
	Vendors        []Vendor `json:"vendors"`
	Degraded       bool     `json:"degraded"`
	Warnings       []string `json:"warnings,omitempty"`
}

// SourceVendors asks the vendor analyst for suppliers.
//
// Description:
//
//	The answer is read as a JSON array of vendors, or as an object with a
//	"vendors" array. Anything else yields an empty, degraded result.
func (s *Service) SourceVendors(ctx context.Context, req VendorRequest) (*VendorResult, error) {
	if err := validateStruct(req); err != nil {
		return nil, err
	}
	result := &VendorResult{EquipmentClass: req.EquipmentClass, Vendors: []Vendor{}}

	pctx := contextFor(req.Sector, "", req.EquipmentClass, "")
	run, err := s.coordinator.RunPersona(ctx, string(persona.VendorAnalyst), vendorQuery(req), pctx)
	if err != nil {
		s.logger.Warn("vendor sourcing failed",
			slog.String("equipment_class", req.EquipmentClass),
			slog.String("error", llm.SafeLogString(err.Error())),
		)
		result.Degraded = true
		result.Warnings = append(result.Warnings, "vendor analysis unavailable: "+llm.SafeLogString(err.Error()))
		return result, nil
	}

	vendors := extract.Into[[]Vendor](run.FinalAnswer, nil)
	if vendors == nil {
		wrapped := extract.Into[*struct {
			Vendors []Vendor `json:"vendors"`
		}](run.FinalAnswer, nil)
		if wrapped != nil {
			vendors = wrapped.Vendors
		}
	}
	if vendors == nil {
		result.Degraded = true
		result.Warnings = append(result.Warnings, "vendor analysis returned no structured result")
		return result, nil
	}
	result.Vendors = normalizeVendors(vendors)
	return result, nil
}

func vendorQuery(req VendorRequest) string {
	q := fmt.Sprintf("Identify manufacturers and suppliers of %s", req.EquipmentClass)
	if req.Region != "" {
		q += fmt.Sprintf(" serving %s", req.Region)
	}
	return q + "."
}

// normalizeVendors drops unnamed vendors and merges duplicates by name.
func normalizeVendors(in []Vendor) []Vendor {
	out := make([]Vendor, 0, len(in))
	index := make(map[string]int, len(in))
	for _, v := range in {
		v.Name = strings.TrimSpace(v.Name)
		if v.Name == "" {
			continue
		}
		v.Products = nonEmpty(v.Products)
		key := strings.ToLower(v.Name)
		if i, ok := index[key]; ok {
			out[i].Products = nonEmpty(append(out[i].Products, v.Products...))
			continue
		}
		index[key] = len(out)
		out = append(out, v)
	}
	return out
}
