package entsoe

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed factors.yaml
var factorsYAML []byte

type psrType struct {
	Name     string `yaml:"name"`
	Emission string `yaml:"emission"`
}

type tables struct {
	DefaultEmissions map[string]float64 `yaml:"default_emissions"`
	PSRTypes         map[string]psrType `yaml:"psr_types"`
	Zones            map[string]string  `yaml:"zones"`
}

var builtin = mustLoadTables()

func mustLoadTables() tables {
	var t tables
	if err := yaml.Unmarshal(factorsYAML, &t); err != nil {
		panic(fmt.Errorf("entsoe: embedded factors: %w", err))
	}
	return t
}

// EIC returns the energy identification code of a zone. EIC codes are
// accepted as they are.
func EIC(zone string) (string, error) {
	if strings.HasPrefix(zone, "10Y") {
		return zone, nil
	}
	if eic, ok := builtin.Zones[strings.ToUpper(zone)]; ok {
		return eic, nil
	}
	return "", fmt.Errorf("unknown zone %q", zone)
}

// priceZone is the bidding zone day-ahead prices are published for.
func priceZone(zone string) string {
	z := strings.ToUpper(zone)
	if strings.HasPrefix(z, "DE") || z == "LU" {
		return "DE_LU"
	}
	return zone
}

// EmissionFactors maps emission types (gas, coal, ...) to gCO2eq/kWh.
type EmissionFactors map[string]float64

func DefaultEmissionFactors() EmissionFactors {
	f := make(EmissionFactors, len(builtin.DefaultEmissions))
	for k, v := range builtin.DefaultEmissions {
		f[k] = v
	}
	return f
}

// LoadEmissionFactors overlays the defaults with the lifecycle factors of
// an electricityMaps zone file. A factor is either {value: x} or a list of
// yearly averages, of which the last one is used.
func LoadEmissionFactors(path string) (EmissionFactors, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var zone struct {
		EmissionFactors struct {
			Lifecycle map[string]yaml.Node `yaml:"lifecycle"`
		} `yaml:"emissionFactors"`
	}
	if err := yaml.Unmarshal(data, &zone); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	type entry struct {
		Value *float64 `yaml:"value"`
	}
	f := DefaultEmissionFactors()
	for name, node := range zone.EmissionFactors.Lifecycle {
		switch node.Kind {
		case yaml.MappingNode:
			var e entry
			if err := node.Decode(&e); err == nil && e.Value != nil {
				f[name] = *e.Value
			}
		case yaml.SequenceNode:
			var es []entry
			if err := node.Decode(&es); err == nil && len(es) > 0 && es[len(es)-1].Value != nil {
				f[name] = *es[len(es)-1].Value
			}
		default:
			return nil, fmt.Errorf("%s: unknown emission factor structure for %s", path, name)
		}
	}
	return f, nil
}

// forType returns the factor of the production type with column name
// name, the unknown factor when the type is not mapped.
func (f EmissionFactors) forType(name string) float64 {
	for _, t := range builtin.PSRTypes {
		if t.Name != name {
			continue
		}
		if v, ok := f[t.Emission]; ok {
			return v
		}
		break
	}
	return f["unknown"]
}

// psrName is the column name of a production type.
func psrName(code string) string {
	if t, ok := builtin.PSRTypes[code]; ok {
		return t.Name
	}
	return strings.ToLower(code)
}
