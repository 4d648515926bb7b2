package auth

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"strings"
)

// tlsMessageSignatures are lowercase substrings that identify a
// certificate-trust failure in error text when no typed cause is present.
var tlsMessageSignatures = []string{
	"x509:",
	"tls: ",
	"certificate has expired",
	"certificate is not trusted",
	"certificate signed by unknown authority",
	"self-signed certificate",
	"self signed certificate",
	"unable to verify the first certificate",
	"ssl certificate",
	"certificate verify failed",
}

// IsTLSError reports whether any cause in err's chain is a certificate or
// TLS trust failure. It walks the whole unwrap chain so a failure wrapped in
// transport and url errors is still recognized.
func IsTLSError(err error) bool {
	var unknownAuthority x509.UnknownAuthorityError
	if errors.As(err, &unknownAuthority) {
		return true
	}
	var invalidCert x509.CertificateInvalidError
	if errors.As(err, &invalidCert) {
		return true
	}
	var hostnameErr x509.HostnameError
	if errors.As(err, &hostnameErr) {
		return true
	}
	var recordHeaderErr tls.RecordHeaderError
	if errors.As(err, &recordHeaderErr) {
		return true
	}
	var verificationErr *tls.CertificateVerificationError
	if errors.As(err, &verificationErr) {
		return true
	}

	for cause := err; cause != nil; cause = errors.Unwrap(cause) {
		message := strings.ToLower(cause.Error())
		for _, signature := range tlsMessageSignatures {
			if strings.Contains(message, signature) {
				return true
			}
		}
	}
	return false
}
