package vault

import "net/http"

// MimeSniffer is the boundary to the MIME validation collaborator: given the
// leading bytes and the declared type it returns the type to record, or an
// error to reject the upload.
type MimeSniffer interface {
	Sniff(head []byte, declared string) (string, error)
}

// DetectSniffer is the default verdict: trust a non-empty declared type,
// otherwise fall back to content detection. It never rejects.
type DetectSniffer struct{}

func (DetectSniffer) Sniff(head []byte, declared string) (string, error) {
	if declared != "" {
		return declared, nil
	}
	return http.DetectContentType(head), nil
}
