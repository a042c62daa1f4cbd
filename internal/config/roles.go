package config

import (
	"errors"
	"fmt"
	"os"

	"go.yaml.in/yaml/v3"

	"github.com/ShayCichocki/triad/pkg/models"
)

// rolesFile is the shape of roles.yaml:
//
//	roles:
//	  coder:
//	    allowed_tools: [Read, Edit, Bash]
//	    prompt_template: "You are the Coder. %s"
type rolesFile struct {
	Roles map[string]roleOverride `yaml:"roles"`
}

type roleOverride struct {
	AllowedTools   []string `yaml:"allowed_tools"`
	PromptTemplate string   `yaml:"prompt_template"`
	BriefingFields []string `yaml:"briefing_fields"`
}

// LoadRoleProfiles returns the built-in profiles with any overrides from
// path applied field by field. A missing file yields the built-ins.
func LoadRoleProfiles(path string) (map[models.Role]models.RoleProfile, error) {
	profiles := make(map[models.Role]models.RoleProfile, len(models.AllRoles))
	for _, r := range models.AllRoles {
		profiles[r] = r.Profile()
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return profiles, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	var f rolesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	for name, o := range f.Roles {
		role, err := models.ParseRole(name)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		p := profiles[role]
		if o.AllowedTools != nil {
			p.AllowedTools = o.AllowedTools
		}
		if o.PromptTemplate != "" {
			p.PromptTemplate = o.PromptTemplate
		}
		if o.BriefingFields != nil {
			p.BriefingFields = o.BriefingFields
		}
		profiles[role] = p
	}
	return profiles, nil
}
