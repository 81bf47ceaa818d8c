// Package config loads the daemon configuration from a YAML file, DNSLB_*
// environment variables and command line flags, and validates it. Besides
// the tuning knobs it carries the zone topology (hosts, labels, aliases,
// nameservers) and the list of checks to run each round.
package config
