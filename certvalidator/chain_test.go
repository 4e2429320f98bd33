package certvalidator_test

import (
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/georgepadayatti/pdfcrypt/certvalidator"
	"github.com/georgepadayatti/pdfcrypt/internal/pkitest"
)

type hierarchy struct {
	root, intermediate, leaf *pkitest.Entity
}

func newHierarchy(t *testing.T, leafOpts ...pkitest.Option) hierarchy {
	t.Helper()
	root := pkitest.NewRoot(t, "Test Root")
	intermediate := root.Issue(t, "Test Intermediate", pkitest.CA())
	leaf := intermediate.Issue(t, "Test Signer", leafOpts...)
	return hierarchy{root: root, intermediate: intermediate, leaf: leaf}
}

func (h hierarchy) chain() []*x509.Certificate {
	return []*x509.Certificate{h.leaf.Cert, h.intermediate.Cert, h.root.Cert}
}

func TestVerifyTrustedChain(t *testing.T) {
	h := newHierarchy(t)
	v := certvalidator.NewChainVerifier([]*x509.Certificate{h.root.Cert})

	outcomes := v.Verify(h.chain(), pkitest.Epoch)
	assert.Empty(t, outcomes)
	assert.True(t, outcomes.OK())
	assert.NoError(t, outcomes.Err())
}

func TestVerifyRootNotTrusted(t *testing.T) {
	h := newHierarchy(t)
	other := pkitest.NewRoot(t, "Other Root")
	v := certvalidator.NewChainVerifier([]*x509.Certificate{other.Cert})

	outcomes := v.Verify(h.chain(), pkitest.Epoch)
	require.Len(t, outcomes, 1)
	assert.Equal(t, certvalidator.ResultUntrusted, outcomes[0].Result)
	assert.Equal(t, h.root.Cert, outcomes[0].Certificate)
	assert.ErrorIs(t, outcomes[0].Err, certvalidator.ErrUntrustedRoot)

	var chainErr *certvalidator.ChainError
	require.True(t, errors.As(outcomes[0].Err, &chainErr))
	assert.Equal(t, 2, chainErr.Index)
}

func TestVerifyEmptyChain(t *testing.T) {
	v := certvalidator.NewChainVerifier(nil)
	outcomes := v.Verify(nil, pkitest.Epoch)
	require.Len(t, outcomes, 1)
	assert.Equal(t, certvalidator.ResultUnverified, outcomes[0].Result)
	assert.NotEmpty(t, outcomes[0].Message)
	assert.ErrorIs(t, outcomes.Err(), certvalidator.ErrUnverifiableChain)
}

func TestVerifyValidityWindow(t *testing.T) {
	h := newHierarchy(t, pkitest.Validity(pkitest.Epoch.AddDate(0, 0, -10), pkitest.Epoch.AddDate(0, 0, 10)))
	v := certvalidator.NewChainVerifier([]*x509.Certificate{h.root.Cert})

	tests := []struct {
		name    string
		days    int
		wantErr error
	}{
		{"inside", 0, nil},
		{"expired", 11, certvalidator.ErrExpiredCertificate},
		{"not yet valid", -11, certvalidator.ErrNotYetValidCertificate},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			outcomes := v.Verify(h.chain(), pkitest.Epoch.AddDate(0, 0, tt.days))
			if tt.wantErr == nil {
				assert.Empty(t, outcomes)
				return
			}
			require.Len(t, outcomes, 1)
			assert.Equal(t, certvalidator.ResultExpired, outcomes[0].Result)
			assert.Equal(t, h.leaf.Cert, outcomes[0].Certificate)
			assert.ErrorIs(t, outcomes[0].Err, tt.wantErr)
		})
	}
}

func TestVerifyBrokenSignature(t *testing.T) {
	h := newHierarchy(t)
	v := certvalidator.NewChainVerifier([]*x509.Certificate{h.root.Cert})

	// leaf claims the root as its direct issuer: wrong name and wrong key
	outcomes := v.Verify([]*x509.Certificate{h.leaf.Cert, h.root.Cert}, pkitest.Epoch)
	require.Len(t, outcomes, 2)
	for _, o := range outcomes {
		assert.Equal(t, certvalidator.ResultUntrusted, o.Result)
		assert.Equal(t, h.leaf.Cert, o.Certificate)
		assert.ErrorIs(t, o.Err, certvalidator.ErrUnverifiableChain)
	}
	assert.Contains(t, outcomes[0].Message, "issuer name")
	assert.Contains(t, outcomes[1].Message, "not signed by")
}

func TestVerifyRejectsEndEntityIssuer(t *testing.T) {
	h := newHierarchy(t)
	forged := h.leaf.Issue(t, "Forged Signer")
	v := certvalidator.NewChainVerifier([]*x509.Certificate{h.root.Cert})

	outcomes := v.Verify([]*x509.Certificate{forged.Cert, h.leaf.Cert, h.intermediate.Cert, h.root.Cert}, pkitest.Epoch)
	require.Len(t, outcomes, 2)
	for _, o := range outcomes {
		assert.Equal(t, certvalidator.ResultUntrusted, o.Result)
		assert.Equal(t, forged.Cert, o.Certificate)
		var chainErr *certvalidator.ChainError
		require.True(t, errors.As(o.Err, &chainErr))
		assert.Equal(t, 0, chainErr.Index)
	}
	assert.Contains(t, outcomes[0].Message, "is not a CA")
	assert.Contains(t, outcomes[1].Message, "may not sign certificates")
	assert.False(t, outcomes.OK())
}

func TestVerifyCAWithoutCertSign(t *testing.T) {
	root := pkitest.NewRoot(t, "Test Root")
	crlOnly := func(c *x509.Certificate) {
		c.IsCA, c.BasicConstraintsValid = true, true
		c.KeyUsage = x509.KeyUsageCRLSign
	}
	intermediate := root.Issue(t, "CRL Signer", crlOnly)
	leaf := intermediate.Issue(t, "Test Signer")

	outcomes := certvalidator.NewChainVerifier([]*x509.Certificate{root.Cert}).
		Verify([]*x509.Certificate{leaf.Cert, intermediate.Cert, root.Cert}, pkitest.Epoch)
	require.Len(t, outcomes, 1)
	assert.Equal(t, leaf.Cert, outcomes[0].Certificate)
	assert.Contains(t, outcomes[0].Message, "may not sign certificates")
}

func TestVerifyPathLength(t *testing.T) {
	pathLen := func(n int) pkitest.Option {
		return func(c *x509.Certificate) {
			c.MaxPathLen, c.MaxPathLenZero = n, n == 0
		}
	}
	tests := []struct {
		name    string
		maxPath int
		wantLen int
	}{
		{"zero", 0, 1},
		{"one", 1, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := pkitest.NewRoot(t, "Constrained Root", pathLen(tt.maxPath))
			intermediate := root.Issue(t, "Test Intermediate", pkitest.CA())
			leaf := intermediate.Issue(t, "Test Signer")

			outcomes := certvalidator.NewChainVerifier([]*x509.Certificate{root.Cert}).
				Verify([]*x509.Certificate{leaf.Cert, intermediate.Cert, root.Cert}, pkitest.Epoch)
			require.Len(t, outcomes, tt.wantLen)
			if tt.wantLen > 0 {
				assert.Equal(t, intermediate.Cert, outcomes[0].Certificate)
				assert.Contains(t, outcomes[0].Message, "path length")
			}
		})
	}
}

func TestVerifyRecordsEveryDefect(t *testing.T) {
	h := newHierarchy(t, pkitest.Validity(pkitest.Epoch.AddDate(-2, 0, 0), pkitest.Epoch.AddDate(0, 0, -1)))
	v := certvalidator.NewChainVerifier(nil)

	outcomes := v.Verify(h.chain(), pkitest.Epoch)
	require.Len(t, outcomes, 2)
	assert.Equal(t, certvalidator.ResultExpired, outcomes[0].Result)
	assert.Equal(t, certvalidator.ResultUntrusted, outcomes[1].Result)

	err := outcomes.Err()
	assert.ErrorIs(t, err, certvalidator.ErrExpiredCertificate)
	assert.ErrorIs(t, err, certvalidator.ErrUntrustedRoot)
	assert.Equal(t, 1, outcomes.Count(certvalidator.ResultExpired))
}

func TestVerifyCriticalExtensions(t *testing.T) {
	oid := asn1.ObjectIdentifier{1, 3, 6, 1, 4, 1, 55555, 1}
	ext := pkix.Extension{Id: oid, Critical: true, Value: []byte{0x05, 0x00}}
	h := newHierarchy(t, pkitest.Extension(ext))
	anchors := []*x509.Certificate{h.root.Cert}

	outcomes := certvalidator.NewChainVerifier(anchors).Verify(h.chain(), pkitest.Epoch)
	require.Len(t, outcomes, 1)
	assert.Equal(t, certvalidator.ResultUnsupportedExtension, outcomes[0].Result)
	assert.Contains(t, outcomes[0].Message, oid.String())

	outcomes = certvalidator.NewChainVerifier(anchors, certvalidator.WithSupportedExtensions(oid)).
		Verify(h.chain(), pkitest.Epoch)
	assert.Empty(t, outcomes)
}

func TestVerifySelfSignedIsNotEnough(t *testing.T) {
	root := pkitest.NewRoot(t, "Lonely Root")
	outcomes := certvalidator.NewChainVerifier(nil).Verify([]*x509.Certificate{root.Cert}, pkitest.Epoch)
	require.Len(t, outcomes, 1)
	assert.Equal(t, certvalidator.ResultUntrusted, outcomes[0].Result)

	outcomes = certvalidator.NewChainVerifier([]*x509.Certificate{root.Cert}).
		Verify([]*x509.Certificate{root.Cert}, pkitest.Epoch)
	assert.Empty(t, outcomes)
}

func TestResultFor(t *testing.T) {
	tests := []struct {
		err  error
		want certvalidator.Result
	}{
		{nil, certvalidator.ResultOK},
		{certvalidator.NewRevokedError("CRL", certvalidator.CRLReasonKeyCompromise, pkitest.Epoch), certvalidator.ResultRevoked},
		{&certvalidator.ExpiredError{ExpiredDt: pkitest.Epoch}, certvalidator.ResultExpired},
		{certvalidator.ErrUnsupportedCriticalExtension, certvalidator.ResultUnsupportedExtension},
		{certvalidator.ErrUntrustedRoot, certvalidator.ResultUntrusted},
		{errors.New("no evidence"), certvalidator.ResultUnverified},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, certvalidator.ResultFor(tt.err), "%v", tt.err)
	}
}
