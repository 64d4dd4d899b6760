// Package types provides common SNMP types and constants shared by the agent packages.
package types

import (
	"fmt"
)

// SNMP version constants as carried in the message version field.
const (
	VersionSNMPv1  = 0
	VersionSNMPv2c = 1
)

// PDUKind identifies the operation carried by a PDU.
type PDUKind int

// PDU kinds understood by the agent.
const (
	PDUGetRequest PDUKind = iota
	PDUGetNextRequest
	PDUGetResponse
	PDUSetRequest
)

// String returns the human-readable name of a PDU kind.
func (k PDUKind) String() string {
	switch k {
	case PDUGetRequest:
		return "GetRequest"
	case PDUGetNextRequest:
		return "GetNextRequest"
	case PDUGetResponse:
		return "GetResponse"
	case PDUSetRequest:
		return "SetRequest"
	default:
		return fmt.Sprintf("Unknown(%d)", int(k))
	}
}

// IsRequest reports whether the kind is one the agent answers.
func (k PDUKind) IsRequest() bool {
	return k == PDUGetRequest || k == PDUGetNextRequest || k == PDUSetRequest
}

// ErrorStatus is the SNMP error-status carried in a response PDU.
type ErrorStatus int

// SNMP error status constants.
const (
	ErrorStatusNoError    ErrorStatus = 0
	ErrorStatusTooBig     ErrorStatus = 1
	ErrorStatusNoSuchName ErrorStatus = 2
	ErrorStatusBadValue   ErrorStatus = 3
	ErrorStatusReadOnly   ErrorStatus = 4
	ErrorStatusGenErr     ErrorStatus = 5
	ErrorStatusNoAccess   ErrorStatus = 6
)

// String returns the RFC name of the error status.
func (s ErrorStatus) String() string {
	switch s {
	case ErrorStatusNoError:
		return "noError"
	case ErrorStatusTooBig:
		return "tooBig"
	case ErrorStatusNoSuchName:
		return "noSuchName"
	case ErrorStatusBadValue:
		return "badValue"
	case ErrorStatusReadOnly:
		return "readOnly"
	case ErrorStatusGenErr:
		return "genErr"
	case ErrorStatusNoAccess:
		return "noAccess"
	default:
		return fmt.Sprintf("Unknown(%d)", int(s))
	}
}

// Permission is the access level granted to a request by its community string.
type Permission int

// Permission levels, ordered from least to most privileged.
const (
	PermissionNone Permission = iota
	PermissionReadOnly
	PermissionReadWrite
)

// String returns the permission name.
func (p Permission) String() string {
	switch p {
	case PermissionNone:
		return "none"
	case PermissionReadOnly:
		return "read-only"
	case PermissionReadWrite:
		return "read-write"
	default:
		return fmt.Sprintf("Unknown(%d)", int(p))
	}
}

// GetVersionName returns the human-readable name of an SNMP version.
func GetVersionName(version int) string {
	switch version {
	case VersionSNMPv1:
		return "SNMPv1"
	case VersionSNMPv2c:
		return "SNMPv2c"
	default:
		return fmt.Sprintf("Unknown(%d)", version)
	}
}

// IsSupportedVersion reports whether the agent answers messages of this version.
func IsSupportedVersion(version int) bool {
	return version == VersionSNMPv1 || version == VersionSNMPv2c
}

// ValidationError represents a configuration or definition validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error in %s: %s", e.Field, e.Message)
}

// ParseError represents a decoding error at a byte offset.
type ParseError struct {
	Offset  int
	Message string
	Err     error
}

func (e ParseError) Error() string {
	return fmt.Sprintf("parse error at offset %d: %s", e.Offset, e.Message)
}

// Unwrap returns the error class of the parse failure.
func (e ParseError) Unwrap() error {
	return e.Err
}
