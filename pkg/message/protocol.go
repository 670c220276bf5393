package message

import (
	"strings"

	"github.com/Masterminds/semver/v3"
	"golang.org/x/text/unicode/norm"

	"github.com/TBD54566975/hubnode/pkg/errs"
)

// Action names an operation a protocol rule can permit.
type Action string

const (
	ActionWrite  Action = "write"
	ActionRead   Action = "read"
	ActionQuery  Action = "query"
	ActionDelete Action = "delete"
)

// Actor names who a protocol rule applies to.
type Actor string

const (
	// ActorAnyone permits any authenticated signer.
	ActorAnyone Actor = "anyone"
	// ActorAuthor permits the author of the record at the rule's Of path.
	ActorAuthor Actor = "author"
	// ActorRecipient permits the recipient of the record at the rule's Of path.
	ActorRecipient Actor = "recipient"
	// ActorRole permits signers holding the role record named by the rule's
	// Role path.
	ActorRole Actor = "role"
)

// ActionRule permits a set of actions to an actor class.
type ActionRule struct {
	Who  Actor    `json:"who"`
	Of   string   `json:"of,omitempty"`
	Role string   `json:"role,omitempty"`
	Can  []Action `json:"can"`
}

// Permits reports whether the rule covers the given action.
func (r *ActionRule) Permits(action Action) bool {
	for _, a := range r.Can {
		if a == action {
			return true
		}
	}
	return false
}

// RuleSet is one node of a protocol's rule tree, keyed by record type name.
type RuleSet struct {
	// Role marks records at this path as role assignments: writing such a
	// record to a recipient confers the role named by the path.
	Role    bool                `json:"role,omitempty"`
	Schema  string              `json:"schema,omitempty"`
	Actions []ActionRule        `json:"actions,omitempty"`
	Records map[string]*RuleSet `json:"records,omitempty"`
}

// MaxPathDepth bounds protocol path walks and ancestor chain resolution.
// Chains deeper than this are rejected as malformed rather than recursed into.
const MaxPathDepth = 10

// ProtocolDefinition is the declarative rule tree installed by a
// ProtocolsConfigure message.
type ProtocolDefinition struct {
	Protocol  string              `json:"protocol"`
	Version   string              `json:"version"`
	Published bool                `json:"published,omitempty"`
	Structure map[string]*RuleSet `json:"structure"`
}

// Validate checks the definition shape: a protocol URI, a semantic version,
// and a rule tree within depth bounds.
func (p *ProtocolDefinition) Validate() error {
	if p.Protocol == "" {
		return errs.Invalid("protocol definition: protocol URI is required")
	}
	p.Protocol = norm.NFC.String(p.Protocol)
	if _, err := semver.NewVersion(p.Version); err != nil {
		return errs.Invalid("protocol definition: version %q is not semver", p.Version)
	}
	if len(p.Structure) == 0 {
		return errs.Invalid("protocol definition: structure is required")
	}
	for name, rs := range p.Structure {
		if err := validateRuleSet(name, rs, 1); err != nil {
			return err
		}
	}
	return nil
}

func validateRuleSet(path string, rs *RuleSet, depth int) error {
	if depth > MaxPathDepth {
		return errs.Invalid("protocol definition: structure at %q exceeds max depth %d", path, MaxPathDepth)
	}
	if rs == nil {
		return errs.Invalid("protocol definition: empty rule set at %q", path)
	}
	for _, rule := range rs.Actions {
		switch rule.Who {
		case ActorAnyone:
		case ActorAuthor, ActorRecipient:
			if rule.Of == "" {
				return errs.Invalid("protocol definition: %q rule at %q requires of", rule.Who, path)
			}
		case ActorRole:
			if rule.Role == "" {
				return errs.Invalid("protocol definition: role rule at %q requires role", path)
			}
		default:
			return errs.Invalid("protocol definition: unknown actor %q at %q", rule.Who, path)
		}
		if len(rule.Can) == 0 {
			return errs.Invalid("protocol definition: rule at %q permits no actions", path)
		}
	}
	for name, child := range rs.Records {
		if err := validateRuleSet(path+"/"+name, child, depth+1); err != nil {
			return err
		}
	}
	return nil
}

// RuleSetAt walks the structure along a slash-separated protocol path and
// returns the rule set governing records at that path.
func (p *ProtocolDefinition) RuleSetAt(protocolPath string) (*RuleSet, error) {
	segments := strings.Split(protocolPath, "/")
	if len(segments) == 0 || len(segments) > MaxPathDepth {
		return nil, errs.Invalid("protocol path %q out of bounds", protocolPath)
	}
	level := p.Structure
	var rs *RuleSet
	for _, seg := range segments {
		if level == nil {
			return nil, errs.NotFound("no rule set at protocol path %q", protocolPath)
		}
		rs = level[seg]
		if rs == nil {
			return nil, errs.NotFound("no rule set at protocol path %q", protocolPath)
		}
		level = rs.Records
	}
	return rs, nil
}
