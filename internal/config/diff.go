package config

import (
	"reflect"
	"slices"

	"threadlet/pkg/logx"
)

// ChangeSummary lists what differs between two configs.
type ChangeSummary struct {
	Sections []string
	// Threadlets whose declaration was added, removed or changed.
	Threadlets []string
	Fields     []logx.Field
}

func (c ChangeSummary) Empty() bool { return len(c.Sections) == 0 }

// SummarizeChange compares two configs section by section.
func SummarizeChange(oldCfg, newCfg *Config) ChangeSummary {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	var sum ChangeSummary

	if oldCfg.Logging != newCfg.Logging {
		sum.Sections = append(sum.Sections, "logging")
		sum.Fields = append(sum.Fields,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file", newCfg.Logging.File.Enabled),
		)
	}

	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		sum.Sections = append(sum.Sections, "storage")
		driver := ""
		if newCfg.Storage != nil {
			driver = newCfg.Storage.Driver
		}
		sum.Fields = append(sum.Fields, logx.String("storage.driver", driver))
	}

	olds := make(map[string]ThreadletConfig, len(oldCfg.Threadlets))
	for _, tc := range oldCfg.Threadlets {
		olds[tc.Name] = tc
	}
	seen := map[string]bool{}
	for _, tc := range newCfg.Threadlets {
		seen[tc.Name] = true
		if prev, ok := olds[tc.Name]; !ok || !reflect.DeepEqual(prev, tc) {
			sum.Threadlets = append(sum.Threadlets, tc.Name)
		}
	}
	for name := range olds {
		if !seen[name] {
			sum.Threadlets = append(sum.Threadlets, name)
		}
	}
	if len(sum.Threadlets) > 0 {
		slices.Sort(sum.Threadlets)
		sum.Sections = append(sum.Sections, "threadlets")
		sum.Fields = append(sum.Fields, logx.Any("threadlets.changed", sum.Threadlets))
	}
	return sum
}
