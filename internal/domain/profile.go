package domain

import (
	"strings"

	"github.com/hyperengineering/peersync/internal/types"
	"github.com/hyperengineering/peersync/internal/validation"
)

// Service types a profile can target. They double as client types.
const (
	ServiceTorrent        = "torrent"
	ServiceUsenet         = "usenet"
	ServiceDirectDownload = "direct_download"
	ServiceMediaServer    = "media_server"
)

// ServiceTypes lists every known service type.
func ServiceTypes() []string {
	return []string{ServiceTorrent, ServiceUsenet, ServiceDirectDownload, ServiceMediaServer}
}

// Profile is a configured server connection.
type Profile struct {
	Name        string `json:"name"`
	Host        string `json:"host"`
	Port        int    `json:"port"`
	Username    string `json:"username,omitempty"`
	Password    string `json:"password,omitempty"`
	UseHTTPS    bool   `json:"use_https"`
	BasePath    string `json:"base_path,omitempty"`
	ServiceType string `json:"service_type"`
	ClientName  string `json:"client_name,omitempty"`
	IsDefault   bool   `json:"is_default"`
}

// ProfilePolicy returns the policy for the profile domain. Each service type
// has at most one default profile.
func ProfilePolicy() Policy {
	return &typed[Profile]{
		domain:   types.DomainProfile,
		validate: validateProfile,
		isDefault: func(_ string, p Profile) bool {
			return p.IsDefault
		},
		demote: func(p *Profile) {
			p.IsDefault = false
		},
		group: func(p Profile) string {
			return strings.ToLower(p.ServiceType)
		},
		clientType: func(p Profile) string {
			return p.ServiceType
		},
	}
}

func validateProfile(_ string, p Profile) error {
	var c validation.Collector
	c.Add(validation.ValidateRequired("name", p.Name))
	c.Add(validation.ValidateMaxLength("name", p.Name, 128))
	c.Add(validation.ValidateRequired("host", p.Host))
	c.Add(validation.ValidateMaxLength("host", p.Host, 253))
	c.Add(validation.ValidatePort("port", p.Port))
	c.Add(validation.ValidateEnum("service_type", p.ServiceType, ServiceTypes()))
	c.Add(validation.ValidateNoNullBytes("password", p.Password))
	return c.Err()
}
