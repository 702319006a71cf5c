package task

import (
	"encoding/json"
	"fmt"
	"net/url"
)

// Kind is the classification variant for a queue message.
type Kind int

// Classification variants. This is the single point that branches on the raw
// type field; everything downstream switches on the Kind.
const (
	KindInvalid Kind = iota
	KindAutomation
	KindScan
)

// Classification is the tagged result of inspecting a raw queue body.
type Classification struct {
	Kind    Kind
	Message Message
	Reason  string
}

// Classify decodes and validates a raw queue body. Unknown types, missing
// required fields, or a non-absolute URL yield KindInvalid: such messages are
// deleted, never retried.
func Classify(body []byte) Classification {
	var msg Message
	if err := json.Unmarshal(body, &msg); err != nil {
		return invalid(msg, fmt.Sprintf("undecodable body: %v", err))
	}

	if msg.ProjectID == "" {
		return invalid(msg, "missing project_id")
	}
	if msg.FlowID == "" {
		return invalid(msg, "missing flow_id")
	}
	if msg.URL == "" {
		return invalid(msg, "missing url")
	}
	parsed, err := url.Parse(msg.URL)
	if err != nil || !parsed.IsAbs() || parsed.Host == "" {
		return invalid(msg, fmt.Sprintf("url %q is not absolute", msg.URL))
	}

	switch msg.Type {
	case "", TypeAutomation:
		// Absence of type means automation for backward compatibility.
		msg.Type = TypeAutomation
		return Classification{Kind: KindAutomation, Message: msg}
	case TypeScan:
		if msg.ScanType == "" {
			msg.ScanType = ScanFull
		}
		if !validScanType(msg.ScanType) {
			return invalid(msg, fmt.Sprintf("unknown scan_type %q", msg.ScanType))
		}
		return Classification{Kind: KindScan, Message: msg}
	default:
		return invalid(msg, fmt.Sprintf("unknown type %q", msg.Type))
	}
}

func invalid(msg Message, reason string) Classification {
	return Classification{Kind: KindInvalid, Message: msg, Reason: reason}
}

func validScanType(st ScanType) bool {
	switch st {
	case ScanFull, ScanContent, ScanStructure, ScanAccessibility, ScanSecurity, ScanPerformance:
		return true
	default:
		return false
	}
}

// Passes expands a scan type into the ordered list of passes to run.
func (s ScanType) Passes() []ScanType {
	if s == ScanFull {
		return []ScanType{ScanContent, ScanStructure, ScanAccessibility, ScanSecurity, ScanPerformance}
	}
	return []ScanType{s}
}
