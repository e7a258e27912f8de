package job

import (
	"errors"
	"fmt"
	"strings"
)

// Mapping is one ordered key/value pair of a port or volume list.
type Mapping struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// String renders the mapping as a "key:value" bind string.
func (m Mapping) String() string {
	return fmt.Sprintf("%s:%s", m.Key, m.Value)
}

// ContainerSpec describes a container job. It is immutable once decoded.
type ContainerSpec struct {
	Image         string    `json:"image"`
	ContainerName string    `json:"container_name"`
	CustomCmd     *string   `json:"custom_cmd,omitempty"`
	SaveLogs      *bool     `json:"save_logs,omitempty"` // accepted, not acted on
	StoreDataFlag *bool     `json:"store_data,omitempty"`
	NetworkMode   string    `json:"network_mode"`
	Ports         []Mapping `json:"ports"`
	Volumes       []Mapping `json:"volumes"`
	Env           []string  `json:"env"`
	Privileged    bool      `json:"privileged"`
}

// Validate checks the fields the executor cannot do without. Env entries are
// passed to the engine verbatim; a bare KEY inherits the daemon's value.
func (s ContainerSpec) Validate() error {
	if strings.TrimSpace(s.Image) == "" {
		return errors.New("image is required")
	}
	return nil
}

// Interactive reports whether a custom command was requested, which switches
// the executor into exec-session mode.
func (s ContainerSpec) Interactive() bool {
	return s.CustomCmd != nil && strings.TrimSpace(*s.CustomCmd) != ""
}

// Command splits the custom command on whitespace. There is no shell quoting.
func (s ContainerSpec) Command() []string {
	if s.CustomCmd == nil {
		return nil
	}
	return strings.Fields(*s.CustomCmd)
}

// StoreData reports whether a per-job data directory should be mounted and collected.
func (s ContainerSpec) StoreData() bool {
	return s.StoreDataFlag != nil && *s.StoreDataFlag
}

// Binds renders the volume list as docker bind strings, in order.
func (s ContainerSpec) Binds() []string {
	binds := make([]string, 0, len(s.Volumes))
	for _, v := range s.Volumes {
		binds = append(binds, v.String())
	}
	return binds
}

// PortSpecs renders the port list as "host:container" specs, in order.
func (s ContainerSpec) PortSpecs() []string {
	specs := make([]string, 0, len(s.Ports))
	for _, p := range s.Ports {
		specs = append(specs, p.String())
	}
	return specs
}
