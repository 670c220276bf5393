package message

import (
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/TBD54566975/hubnode/pkg/errs"
)

// Interface names the top-level message interface.
type Interface string

const (
	InterfaceRecords     Interface = "Records"
	InterfacePermissions Interface = "Permissions"
	InterfaceProtocols   Interface = "Protocols"
	InterfaceEvents      Interface = "Events"
)

// Method names an operation within an interface.
type Method string

const (
	MethodWrite     Method = "Write"
	MethodDelete    Method = "Delete"
	MethodRead      Method = "Read"
	MethodQuery     Method = "Query"
	MethodConfigure Method = "Configure"
	MethodGrant     Method = "Grant"
	MethodRevoke    Method = "Revoke"
	MethodGet       Method = "Get"
	MethodSubscribe Method = "Subscribe"
)

// TimestampLayout is a fixed-width RFC 3339 layout with microsecond precision.
// Fixed width keeps lexicographic comparison of timestamps chronological.
const TimestampLayout = "2006-01-02T15:04:05.000000Z"

// Timestamp formats t in the canonical message timestamp layout.
func Timestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// GrantScope constrains a permission grant to a subset of the tenant's authority.
type GrantScope struct {
	Interface Interface `json:"interface"`
	Method    Method    `json:"method"`
	Protocol  string    `json:"protocol,omitempty"`
	RecordID  string    `json:"recordId,omitempty"`
}

// Descriptor is the method-specific payload of a message. The (Interface,
// Method) pair selects which field subset is meaningful; Validate enforces the
// per-method required set at construction time so malformed descriptors never
// reach authentication or authorization.
type Descriptor struct {
	Interface        Interface `json:"interface"`
	Method           Method    `json:"method"`
	MessageTimestamp string    `json:"messageTimestamp"`

	// Records
	RecordID     string `json:"recordId,omitempty"`
	Protocol     string `json:"protocol,omitempty"`
	ProtocolPath string `json:"protocolPath,omitempty"`
	ContextID    string `json:"contextId,omitempty"`
	ParentID     string `json:"parentId,omitempty"`
	Schema       string `json:"schema,omitempty"`
	DataCID      string `json:"dataCid,omitempty"`
	DataFormat   string `json:"dataFormat,omitempty"`
	Recipient    string `json:"recipient,omitempty"`
	Published    bool   `json:"published,omitempty"`

	// Records Query / Events Get / Events Subscribe
	Filter *Filter `json:"filter,omitempty"`
	Cursor string  `json:"cursor,omitempty"`

	// Protocols Configure
	Definition *ProtocolDefinition `json:"definition,omitempty"`

	// Permissions Grant
	GrantedTo   string      `json:"grantedTo,omitempty"`
	GrantedBy   string      `json:"grantedBy,omitempty"`
	DateExpires string      `json:"dateExpires,omitempty"`
	Scope       *GrantScope `json:"scope,omitempty"`

	// Permissions Revoke: CID of the grant being revoked.
	// Events Get: resume watermark.
	// Events Subscribe: optional CEL predicate over descriptor fields.
	PermissionsGrantID string `json:"permissionsGrantId,omitempty"`
	Watermark          string `json:"watermark,omitempty"`
	Expression         string `json:"expression,omitempty"`
}

var methodsByInterface = map[Interface]map[Method]bool{
	InterfaceRecords:     {MethodWrite: true, MethodDelete: true, MethodRead: true, MethodQuery: true},
	InterfaceProtocols:   {MethodConfigure: true, MethodQuery: true},
	InterfacePermissions: {MethodGrant: true, MethodRevoke: true},
	InterfaceEvents:      {MethodGet: true, MethodSubscribe: true},
}

// Validate checks the descriptor against the closed interface/method set and
// the per-method required field set.
func (d *Descriptor) Validate() error {
	methods, ok := methodsByInterface[d.Interface]
	if !ok {
		return errs.Invalid("unknown interface %q", d.Interface)
	}
	if !methods[d.Method] {
		return errs.Invalid("unknown method %q for interface %q", d.Method, d.Interface)
	}
	if d.MessageTimestamp == "" {
		return errs.Invalid("%s%s: messageTimestamp is required", d.Interface, d.Method)
	}
	if _, err := time.Parse(TimestampLayout, d.MessageTimestamp); err != nil {
		return errs.Invalid("%s%s: malformed messageTimestamp %q", d.Interface, d.Method, d.MessageTimestamp)
	}

	// Protocol URIs and paths are NFC-normalized so equal-looking identifiers
	// hash identically.
	d.Protocol = norm.NFC.String(d.Protocol)
	d.ProtocolPath = norm.NFC.String(d.ProtocolPath)

	switch {
	case d.Interface == InterfaceRecords && d.Method == MethodWrite:
		return d.validateRecordsWrite()
	case d.Interface == InterfaceRecords && d.Method == MethodDelete:
		if d.RecordID == "" {
			return errs.Invalid("RecordsDelete: recordId is required")
		}
	case d.Interface == InterfaceRecords && d.Method == MethodRead:
		if d.RecordID == "" {
			return errs.Invalid("RecordsRead: recordId is required")
		}
	case d.Interface == InterfaceRecords && d.Method == MethodQuery:
		if d.Filter == nil {
			return errs.Invalid("RecordsQuery: filter is required")
		}
	case d.Interface == InterfaceProtocols && d.Method == MethodConfigure:
		if d.Definition == nil {
			return errs.Invalid("ProtocolsConfigure: definition is required")
		}
		if err := d.Definition.Validate(); err != nil {
			return err
		}
		// Mirror the URI into the indexed protocol field so configure
		// messages are queryable alongside protocol records.
		if d.Protocol == "" {
			d.Protocol = d.Definition.Protocol
		}
		if d.Protocol != d.Definition.Protocol {
			return errs.Invalid("ProtocolsConfigure: protocol %q does not match definition %q", d.Protocol, d.Definition.Protocol)
		}
		return nil
	case d.Interface == InterfacePermissions && d.Method == MethodGrant:
		return d.validatePermissionsGrant()
	case d.Interface == InterfacePermissions && d.Method == MethodRevoke:
		if d.PermissionsGrantID == "" {
			return errs.Invalid("PermissionsRevoke: permissionsGrantId is required")
		}
	}
	return nil
}

func (d *Descriptor) validateRecordsWrite() error {
	if d.RecordID == "" {
		return errs.Invalid("RecordsWrite: recordId is required")
	}
	if d.DataCID == "" {
		return errs.Invalid("RecordsWrite: dataCid is required")
	}
	if d.DataFormat == "" {
		return errs.Invalid("RecordsWrite: dataFormat is required")
	}
	if (d.Protocol == "") != (d.ProtocolPath == "") {
		return errs.Invalid("RecordsWrite: protocol and protocolPath must be set together")
	}
	if d.ProtocolPath != "" && strings.Contains(d.ProtocolPath, "//") {
		return errs.Invalid("RecordsWrite: malformed protocolPath %q", d.ProtocolPath)
	}
	return nil
}

func (d *Descriptor) validatePermissionsGrant() error {
	if d.GrantedTo == "" {
		return errs.Invalid("PermissionsGrant: grantedTo is required")
	}
	if d.Scope == nil {
		return errs.Invalid("PermissionsGrant: scope is required")
	}
	if d.Scope.Interface == "" || d.Scope.Method == "" {
		return errs.Invalid("PermissionsGrant: scope interface and method are required")
	}
	if d.DateExpires != "" {
		if _, err := time.Parse(TimestampLayout, d.DateExpires); err != nil {
			return errs.Invalid("PermissionsGrant: malformed dateExpires %q", d.DateExpires)
		}
	}
	return nil
}
