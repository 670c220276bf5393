package message

// Filter is the predicate shape shared by record queries, historical event
// reads, and live event subscriptions. Zero-valued fields do not constrain.
type Filter struct {
	Interface    Interface `json:"interface,omitempty"`
	Method       Method    `json:"method,omitempty"`
	Protocol     string    `json:"protocol,omitempty"`
	ProtocolPath string    `json:"protocolPath,omitempty"`
	RecordID     string    `json:"recordId,omitempty"`
	ContextID    string    `json:"contextId,omitempty"`
	Schema       string    `json:"schema,omitempty"`
	Recipient    string    `json:"recipient,omitempty"`
	DateFrom     string    `json:"dateFrom,omitempty"`
	DateTo       string    `json:"dateTo,omitempty"`
}

// Matches reports whether a descriptor satisfies every set field of the filter.
// Date bounds compare against the message timestamp: DateFrom is inclusive,
// DateTo exclusive.
func (f *Filter) Matches(d *Descriptor) bool {
	if f == nil {
		return true
	}
	if f.Interface != "" && f.Interface != d.Interface {
		return false
	}
	if f.Method != "" && f.Method != d.Method {
		return false
	}
	if f.Protocol != "" && f.Protocol != d.Protocol {
		return false
	}
	if f.ProtocolPath != "" && f.ProtocolPath != d.ProtocolPath {
		return false
	}
	if f.RecordID != "" && f.RecordID != d.RecordID {
		return false
	}
	if f.ContextID != "" && f.ContextID != d.ContextID {
		return false
	}
	if f.Schema != "" && f.Schema != d.Schema {
		return false
	}
	if f.Recipient != "" && f.Recipient != d.Recipient {
		return false
	}
	if f.DateFrom != "" && d.MessageTimestamp < f.DateFrom {
		return false
	}
	if f.DateTo != "" && d.MessageTimestamp >= f.DateTo {
		return false
	}
	return true
}
