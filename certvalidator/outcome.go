package certvalidator

import (
	"crypto/x509"
	"strings"

	"go.uber.org/multierr"
)

// Result classifies one verification outcome.
type Result int

const (
	ResultOK Result = iota
	ResultExpired
	ResultRevoked
	ResultUntrusted
	ResultUnsupportedExtension
	ResultUnverified
)

func (r Result) String() string {
	switch r {
	case ResultOK:
		return "OK"
	case ResultExpired:
		return "EXPIRED"
	case ResultRevoked:
		return "REVOKED"
	case ResultUntrusted:
		return "UNTRUSTED"
	case ResultUnsupportedExtension:
		return "UNSUPPORTED_EXTENSION"
	case ResultUnverified:
		return "UNVERIFIED"
	default:
		return "UNKNOWN"
	}
}

// VerificationOutcome is the verdict for one certificate.
type VerificationOutcome struct {
	Certificate *x509.Certificate
	Result      Result
	Message     string
	// Err is nil for ResultOK.
	Err error
}

// OK reports whether the outcome is a pass.
func (o VerificationOutcome) OK() bool { return o.Result == ResultOK }

func (o VerificationOutcome) String() string {
	var sb strings.Builder
	sb.WriteString(o.Result.String())
	if o.Certificate != nil {
		sb.WriteString(" ")
		sb.WriteString(DescribeCert(o.Certificate))
	}
	if o.Message != "" {
		sb.WriteString(": ")
		sb.WriteString(o.Message)
	}
	return sb.String()
}

// NewOutcome classifies err with ResultFor and builds the outcome for cert.
// A nil err gives an OK outcome.
func NewOutcome(cert *x509.Certificate, err error) VerificationOutcome {
	o := VerificationOutcome{Certificate: cert, Result: ResultFor(err), Err: err}
	if err != nil {
		o.Message = err.Error()
	}
	return o
}

// Outcomes is an ordered outcome list, leaf first.
type Outcomes []VerificationOutcome

// Failures returns the outcomes that are not OK, in order.
func (oc Outcomes) Failures() Outcomes {
	var out Outcomes
	for _, o := range oc {
		if !o.OK() {
			out = append(out, o)
		}
	}
	return out
}

// OK reports whether every outcome passed. An empty list is OK.
func (oc Outcomes) OK() bool { return len(oc.Failures()) == 0 }

// Err combines the errors of all failed outcomes, or returns nil.
func (oc Outcomes) Err() error {
	var err error
	for _, o := range oc {
		if !o.OK() {
			err = multierr.Append(err, o.Err)
		}
	}
	return err
}

// Count returns how many outcomes carry result r.
func (oc Outcomes) Count(r Result) int {
	n := 0
	for _, o := range oc {
		if o.Result == r {
			n++
		}
	}
	return n
}
