package appstore

import (
	"encoding/asn1"
	"encoding/base64"
	"fmt"
	"strings"
)

// Receipt attribute types. The app receipt payload is a SET of attributes;
// type 17 holds the in-app purchase receipts, and inside each of those
// type 1703 is the transaction identifier.
const (
	attrInAppPurchase = 17
	attrTransactionID = 1703
)

type receiptAttribute struct {
	Type    int
	Version int
	Value   []byte
}

type receiptContentInfo struct {
	ContentType asn1.ObjectIdentifier
	Content     asn1.RawValue `asn1:"explicit,optional,tag:0"`
}

// ExtractTransactionID pulls a transaction identifier out of a base64
// legacy app receipt (a PKCS#7 signed blob). Callers treat any failure as
// "the body is not a receipt" and fall back to using the raw body as the
// transaction id, so errors here carry context but are not typed.
func ExtractTransactionID(receipt string) (string, error) {
	compact := strings.Join(strings.Fields(receipt), "")
	der, err := base64.StdEncoding.DecodeString(compact)
	if err != nil {
		return "", fmt.Errorf("appstore: receipt is not base64: %w", err)
	}

	var outer receiptContentInfo
	if _, err := asn1.Unmarshal(der, &outer); err != nil {
		return "", fmt.Errorf("appstore: receipt is not a PKCS#7 blob: %w", err)
	}

	payload, err := signedDataPayload(outer.Content.FullBytes)
	if err != nil {
		return "", err
	}

	var attrs []receiptAttribute
	if _, err := asn1.UnmarshalWithParams(payload, &attrs, "set"); err != nil {
		return "", fmt.Errorf("appstore: parsing receipt attributes: %w", err)
	}

	for _, attr := range attrs {
		if attr.Type != attrInAppPurchase {
			continue
		}
		var inApp []receiptAttribute
		if _, err := asn1.UnmarshalWithParams(attr.Value, &inApp, "set"); err != nil {
			continue
		}
		for _, field := range inApp {
			if field.Type != attrTransactionID {
				continue
			}
			var txid string
			if _, err := asn1.Unmarshal(field.Value, &txid); err != nil {
				return "", fmt.Errorf("appstore: decoding transaction id: %w", err)
			}
			return txid, nil
		}
	}
	return "", fmt.Errorf("appstore: no transaction id in receipt")
}

// signedDataPayload walks the SignedData SEQUENCE far enough to reach the
// encapsulated content: version, digest algorithms, then the inner
// content info whose octet string is the receipt payload.
func signedDataPayload(signedData []byte) ([]byte, error) {
	var seq asn1.RawValue
	if _, err := asn1.Unmarshal(signedData, &seq); err != nil {
		return nil, fmt.Errorf("appstore: parsing SignedData: %w", err)
	}

	rest := seq.Bytes
	var version int
	rest, err := asn1.Unmarshal(rest, &version)
	if err != nil {
		return nil, fmt.Errorf("appstore: parsing SignedData version: %w", err)
	}

	var digests asn1.RawValue
	rest, err = asn1.Unmarshal(rest, &digests)
	if err != nil {
		return nil, fmt.Errorf("appstore: parsing digest algorithms: %w", err)
	}

	var inner receiptContentInfo
	if _, err := asn1.Unmarshal(rest, &inner); err != nil {
		return nil, fmt.Errorf("appstore: parsing encapsulated content: %w", err)
	}

	var octets asn1.RawValue
	if _, err := asn1.Unmarshal(inner.Content.FullBytes, &octets); err != nil {
		return nil, fmt.Errorf("appstore: parsing receipt payload: %w", err)
	}
	return octets.Bytes, nil
}
