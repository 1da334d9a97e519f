package appstore

import (
	"encoding/asn1"
	"encoding/base64"
	"testing"
)

var oidPKCS7SignedData = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 7, 2}
var oidPKCS7Data = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 7, 1}

// buildReceipt assembles a minimal PKCS#7 blob shaped like an app receipt:
// ContentInfo(SignedData(version, digestAlgorithms, ContentInfo(payload)))
// where the payload is a SET of attributes containing the in-app purchase
// set with the transaction id.
func buildReceipt(t *testing.T, transactionID string) string {
	t.Helper()

	txidDER, err := asn1.Marshal(transactionID)
	if err != nil {
		t.Fatalf("marshalling transaction id: %v", err)
	}
	inApp := []receiptAttribute{{Type: attrTransactionID, Version: 1, Value: txidDER}}
	inAppDER, err := asn1.MarshalWithParams(inApp, "set")
	if err != nil {
		t.Fatalf("marshalling in-app set: %v", err)
	}

	attrs := []receiptAttribute{
		{Type: 2, Version: 1, Value: []byte{0x0c, 0x01, 0x78}}, // unrelated attribute
		{Type: attrInAppPurchase, Version: 1, Value: inAppDER},
	}
	payloadDER, err := asn1.MarshalWithParams(attrs, "set")
	if err != nil {
		t.Fatalf("marshalling payload set: %v", err)
	}

	octetDER, err := asn1.Marshal(payloadDER)
	if err != nil {
		t.Fatalf("marshalling octet string: %v", err)
	}
	inner, err := asn1.Marshal(receiptContentInfo{
		ContentType: oidPKCS7Data,
		Content:     asn1.RawValue{FullBytes: octetDER},
	})
	if err != nil {
		t.Fatalf("marshalling inner content info: %v", err)
	}

	versionDER, err := asn1.Marshal(1)
	if err != nil {
		t.Fatalf("marshalling version: %v", err)
	}
	digestsDER, err := asn1.MarshalWithParams([]asn1.RawValue{}, "set")
	if err != nil {
		t.Fatalf("marshalling digest algorithms: %v", err)
	}

	var body []byte
	body = append(body, versionDER...)
	body = append(body, digestsDER...)
	body = append(body, inner...)
	signedData, err := asn1.Marshal(asn1.RawValue{
		Class:      asn1.ClassUniversal,
		Tag:        asn1.TagSequence,
		IsCompound: true,
		Bytes:      body,
	})
	if err != nil {
		t.Fatalf("marshalling SignedData: %v", err)
	}

	outer, err := asn1.Marshal(receiptContentInfo{
		ContentType: oidPKCS7SignedData,
		Content:     asn1.RawValue{FullBytes: signedData},
	})
	if err != nil {
		t.Fatalf("marshalling outer content info: %v", err)
	}

	return base64.StdEncoding.EncodeToString(outer)
}

func TestExtractTransactionID_RoundTrip(t *testing.T) {
	receipt := buildReceipt(t, "2000000987654321")

	txid, err := ExtractTransactionID(receipt)
	if err != nil {
		t.Fatalf("ExtractTransactionID: %v", err)
	}
	if txid != "2000000987654321" {
		t.Errorf("expected 2000000987654321, got %q", txid)
	}
}

func TestExtractTransactionID_WhitespaceTolerated(t *testing.T) {
	receipt := buildReceipt(t, "42")
	wrapped := receipt[:10] + "\n" + receipt[10:20] + " \t" + receipt[20:]

	txid, err := ExtractTransactionID(wrapped)
	if err != nil {
		t.Fatalf("ExtractTransactionID: %v", err)
	}
	if txid != "42" {
		t.Errorf("expected 42, got %q", txid)
	}
}

func TestExtractTransactionID_NotBase64(t *testing.T) {
	if _, err := ExtractTransactionID("!!! definitely not a receipt !!!"); err == nil {
		t.Fatal("expected error for non-base64 body")
	}
}

func TestExtractTransactionID_Base64ButNotDER(t *testing.T) {
	bogus := base64.StdEncoding.EncodeToString([]byte("just some text"))
	if _, err := ExtractTransactionID(bogus); err == nil {
		t.Fatal("expected error for non-DER body")
	}
}

func TestExtractTransactionID_NoInAppSet(t *testing.T) {
	// A structurally valid receipt with no in-app purchase attribute.
	attrs := []receiptAttribute{{Type: 2, Version: 1, Value: []byte{0x0c, 0x01, 0x78}}}
	payloadDER, err := asn1.MarshalWithParams(attrs, "set")
	if err != nil {
		t.Fatalf("marshalling payload: %v", err)
	}
	octetDER, _ := asn1.Marshal(payloadDER)
	inner, _ := asn1.Marshal(receiptContentInfo{ContentType: oidPKCS7Data, Content: asn1.RawValue{FullBytes: octetDER}})
	versionDER, _ := asn1.Marshal(1)
	digestsDER, _ := asn1.MarshalWithParams([]asn1.RawValue{}, "set")

	var body []byte
	body = append(body, versionDER...)
	body = append(body, digestsDER...)
	body = append(body, inner...)
	signedData, _ := asn1.Marshal(asn1.RawValue{Class: asn1.ClassUniversal, Tag: asn1.TagSequence, IsCompound: true, Bytes: body})
	outer, _ := asn1.Marshal(receiptContentInfo{ContentType: oidPKCS7SignedData, Content: asn1.RawValue{FullBytes: signedData}})

	if _, err := ExtractTransactionID(base64.StdEncoding.EncodeToString(outer)); err == nil {
		t.Fatal("expected error when no transaction id is present")
	}
}
