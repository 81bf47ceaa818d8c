package config

import (
	"fmt"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// flagKeys maps command line flags onto configuration keys.
var flagKeys = map[string]string{
	"loglevel":       "logging::level",
	"logfile":        "logging::file",
	"zone":           "zone::file",
	"max-changes":    "publish::max_changes",
	"max-age":        "publish::max_age",
	"mail":           "notify::mail",
	"sender":         "notify::sender",
	"sleep-time":     "monitor::sleep_time",
	"status-address": "status::address",
}

// DefaultConfigFile is read when --config is not given.
const DefaultConfigFile = "config.yaml"

// NewFlagSet declares the daemon's command line. Flags left unset do not
// override the configuration file.
func NewFlagSet(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)

	fs.BoolP("help", "h", false, "This message")
	fs.String("loglevel", LogLevelInfo, "Set loglevel to `level`")
	fs.String("logfile", "", "Log into `file`")
	fs.StringP("zone", "z", "zone.json", "Write the zone into `zonefile`")
	fs.StringP("config", "c", DefaultConfigFile, "Read config (yaml) from `config`")
	fs.IntP("max-changes", "M", 0, "Distrust a zone that drops more than this `number` of addresses")
	fs.StringP("max-age", "A", "1h", "Force an update of a zone older than this `age` (e.g. 3600, 90m, 1w 2d 3h 4m)")
	fs.StringP("mail", "m", "", "Send change notifications to this `email` address")
	fs.StringP("sender", "S", "noreply@localhost.localdomain", "Send change notifications from this `email` address (requires --mail)")
	fs.StringP("sleep-time", "s", "30", "Seconds (or a duration) to sleep between checks")
	fs.String("status-address", "", "Serve metrics and status on this `host:port`")

	return fs
}

func bindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	for name, key := range flagKeys {
		flag := flags.Lookup(name)
		if flag == nil {
			continue
		}
		if err := v.BindPFlag(key, flag); err != nil {
			return fmt.Errorf("bind flag %s: %w", name, err)
		}
	}
	return nil
}
