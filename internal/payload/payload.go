// Package payload inspects raw invoice payloads before they are submitted:
// format detection, declared content-type checking, structural validation and
// digest computation. Rejecting a broken payload locally avoids burning a
// non-idempotent authority submission on it.
package payload

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"io"
	"strings"

	pdfapi "github.com/pdfcpu/pdfcpu/pkg/api"

	"github.com/rezonia/einvoice-gateway/internal/model"
)

// Format is the detected payload format.
type Format string

const (
	FormatXML     Format = "xml"
	FormatPDF     Format = "pdf"
	FormatUnknown Format = "unknown"
)

// HashAlgorithm and HashEncoding describe how payload digests are computed
// for the authority's invoiceHash envelope.
const (
	HashAlgorithm = "SHA-256"
	HashEncoding  = "Base64"
)

// Info is the result of inspecting a payload.
type Info struct {
	Format      Format
	ContentType string
	Hash        string
	Size        int
}

// DetectFormat detects the payload format from magic bytes.
func DetectFormat(data []byte) Format {
	if len(data) < 4 {
		return FormatUnknown
	}
	if bytes.HasPrefix(data, []byte("%PDF")) {
		return FormatPDF
	}
	// XML, optionally behind a UTF-8 BOM
	trimmed := bytes.TrimPrefix(data, []byte{0xEF, 0xBB, 0xBF})
	if len(trimmed) > 0 && trimmed[0] == '<' {
		return FormatXML
	}
	return FormatUnknown
}

// Hash computes the base64-encoded SHA-256 digest of the payload. This is
// the idempotency and reconciliation key for submissions and the integrity
// reference for downloads.
func Hash(data []byte) string {
	sum := sha256.Sum256(data)
	return base64.StdEncoding.EncodeToString(sum[:])
}

// Inspect validates a payload against its declared content type and returns
// the detected format together with the payload digest. Failures are
// ValidationRejected: the caller must fix the payload, a retry with the same
// bytes cannot succeed.
func Inspect(data []byte, declaredContentType string) (*Info, error) {
	if len(data) == 0 {
		return nil, model.NewError(model.KindValidationRejected, "empty payload", nil)
	}

	format := DetectFormat(data)
	if format == FormatUnknown {
		return nil, model.NewError(model.KindValidationRejected, "unsupported payload format", nil)
	}

	if declaredContentType != "" && !contentTypeMatches(declaredContentType, format) {
		return nil, model.NewError(model.KindValidationRejected,
			fmt.Sprintf("declared content type %q does not match detected format %q", declaredContentType, format), nil)
	}

	switch format {
	case FormatXML:
		if err := validateXML(data); err != nil {
			return nil, model.NewError(model.KindValidationRejected, "malformed XML payload", err)
		}
	case FormatPDF:
		if err := pdfapi.Validate(bytes.NewReader(data), nil); err != nil {
			return nil, model.NewError(model.KindValidationRejected, "malformed PDF payload", err)
		}
	}

	return &Info{
		Format:      format,
		ContentType: contentTypeFor(format),
		Hash:        Hash(data),
		Size:        len(data),
	}, nil
}

func contentTypeMatches(declared string, format Format) bool {
	declared = strings.ToLower(strings.TrimSpace(declared))
	if i := strings.Index(declared, ";"); i != -1 {
		declared = strings.TrimSpace(declared[:i])
	}
	switch format {
	case FormatXML:
		return declared == "application/xml" || declared == "text/xml"
	case FormatPDF:
		return declared == "application/pdf"
	default:
		return false
	}
}

func contentTypeFor(format Format) string {
	switch format {
	case FormatXML:
		return "application/xml"
	case FormatPDF:
		return "application/pdf"
	default:
		return "application/octet-stream"
	}
}

// validateXML checks well-formedness by walking the full token stream.
func validateXML(data []byte) error {
	dec := xml.NewDecoder(bytes.NewReader(data))
	for {
		_, err := dec.Token()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}
