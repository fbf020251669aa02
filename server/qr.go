package server

import (
	"net/url"

	qrcode "github.com/skip2/go-qrcode"

	"github.com/vellumd/vellum/models"
)

// verificationUrl builds the public URL embedded in QR codes:
// <base>?hash=0x<64-hex>[&tx=0x<64-hex>].
func (s *Server) verificationUrl(doc *models.Document) string {
	v := url.Values{}
	v.Set("hash", doc.Hash)
	if doc.TxHash != nil {
		v.Set("tx", *doc.TxHash)
	}

	return s.config.VerifyBaseUrl + "?" + v.Encode()
}

func (s *Server) verificationQr(doc *models.Document) ([]byte, error) {
	return qrcode.Encode(s.verificationUrl(doc), qrcode.Medium, 256)
}
