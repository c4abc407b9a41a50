package main

import (
	"fmt"
	"strconv"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/spf13/pflag"
)

// profile is a saved run configuration:
//
//	device {
//	  elevator = "anxiety"
//	  size     = "256MiB"
//	  tunables = { max_writes_starved = 2 }
//	}
//
//	workload {
//	  requests   = 50000
//	  read_ratio = 0.9
//	}
type profile struct {
	Device   *deviceProfile   `hcl:"device,block"`
	Workload *workloadProfile `hcl:"workload,block"`
	Metrics  *metricsProfile  `hcl:"metrics,block"`
}

type deviceProfile struct {
	Backend   *string           `hcl:"backend,optional"`
	File      *string           `hcl:"file,optional"`
	Size      *string           `hcl:"size,optional"`
	Elevator  *string           `hcl:"elevator,optional"`
	Depth     *int              `hcl:"depth,optional"`
	BlockSize *int              `hcl:"block_size,optional"`
	Tunables  map[string]string `hcl:"tunables,optional"`
}

type workloadProfile struct {
	Requests    *int     `hcl:"requests,optional"`
	ReadRatio   *float64 `hcl:"read_ratio,optional"`
	IOSize      *string  `hcl:"io_size,optional"`
	Workers     *int     `hcl:"workers,optional"`
	Seed        *int64   `hcl:"seed,optional"`
	SwitchTo    *string  `hcl:"switch_to,optional"`
	SwitchAfter *int     `hcl:"switch_after,optional"`
}

type metricsProfile struct {
	Addr *string `hcl:"addr"`
	Hold *bool   `hcl:"hold,optional"`
}

// loadProfile parses and decodes the profile at path
func loadProfile(path string) (*profile, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCLFile(path)
	return decodeProfile(path, file, diags)
}

// parseProfile decodes a profile held in memory
func parseProfile(src []byte, filename string) (*profile, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL(src, filename)
	return decodeProfile(filename, file, diags)
}

func decodeProfile(filename string, file *hcl.File, diags hcl.Diagnostics) (*profile, error) {
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse profile %s: %s", filename, diags.Error())
	}

	var p profile
	if diags := gohcl.DecodeBody(file.Body, nil, &p); diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode profile %s: %s", filename, diags.Error())
	}
	return &p, nil
}

// flagValues maps flag names to the values a profile supplies for them
func (p *profile) flagValues() map[string]string {
	values := make(map[string]string)
	setString := func(name string, v *string) {
		if v != nil {
			values[name] = *v
		}
	}
	setInt := func(name string, v *int) {
		if v != nil {
			values[name] = strconv.Itoa(*v)
		}
	}

	if d := p.Device; d != nil {
		setString("backend", d.Backend)
		setString("file", d.File)
		setString("size", d.Size)
		setString("elevator", d.Elevator)
		setInt("depth", d.Depth)
		setInt("block-size", d.BlockSize)
	}
	if w := p.Workload; w != nil {
		setInt("requests", w.Requests)
		if w.ReadRatio != nil {
			values["read-ratio"] = strconv.FormatFloat(*w.ReadRatio, 'f', -1, 64)
		}
		setString("io-size", w.IOSize)
		setInt("workers", w.Workers)
		if w.Seed != nil {
			values["seed"] = strconv.FormatInt(*w.Seed, 10)
		}
		setString("switch-to", w.SwitchTo)
		setInt("switch-after", w.SwitchAfter)
	}
	if m := p.Metrics; m != nil {
		setString("metrics-addr", m.Addr)
		if m.Hold != nil {
			values["hold"] = strconv.FormatBool(*m.Hold)
		}
	}
	return values
}

// apply sets every flag the profile names unless it was given on the
// command line. Profile tunables are added to the command line ones,
// which win on conflict.
func (p *profile) apply(flags *pflag.FlagSet) error {
	for name, value := range p.flagValues() {
		if flags.Changed(name) {
			continue
		}
		if err := flags.Set(name, value); err != nil {
			return fmt.Errorf("profile value for %s: %w", name, err)
		}
	}

	if p.Device == nil || len(p.Device.Tunables) == 0 {
		return nil
	}
	merged := make(map[string]string, len(p.Device.Tunables)+len(runTunables))
	for k, v := range p.Device.Tunables {
		merged[k] = v
	}
	for k, v := range runTunables {
		merged[k] = v
	}
	runTunables = merged
	return nil
}
