package main

import (
	"crypto/sha1"
	"encoding/base32"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
)

// writeWARCRecord writes one WARC/1.0 "resource" record (spec §6.5's "export
// warc" mode) containing payload, identified by targetURI and stamped with
// creation. WARC export is named only as an external contract in the spec
// (the format itself is out of scope); this is a minimal writer covering the
// single record type the results export needs, not a general WARC library.
func writeWARCRecord(w io.Writer, targetURI string, creation time.Time, contentType string, payload []byte) error {
	digest := sha1.Sum(payload)
	recordID := fmt.Sprintf("<urn:uuid:%s>", uuid.New().String())

	header := fmt.Sprintf(
		"WARC/1.0\r\n"+
			"WARC-Type: resource\r\n"+
			"WARC-Record-ID: %s\r\n"+
			"WARC-Date: %s\r\n"+
			"WARC-Target-URI: %s\r\n"+
			"WARC-Payload-Digest: sha1:%s\r\n"+
			"Content-Type: %s\r\n"+
			"Content-Length: %d\r\n\r\n",
		recordID, creation.UTC().Format(time.RFC3339), targetURI, warcDigest(digest[:]), contentType, len(payload))

	if _, err := io.WriteString(w, header); err != nil {
		return err
	}
	if _, err := w.Write(payload); err != nil {
		return err
	}
	_, err := io.WriteString(w, "\r\n\r\n")
	return err
}

func warcDigest(sum []byte) string {
	return base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(sum)
}
