// Package gateway implements the signed redirect/callback protocol of the
// external online payment provider.
//
// Outbound requests are signed over a fixed canonical field order; callback
// verification re-sorts the received keys lexicographically before signing.
// The asymmetry is the gateway's contract, not ours to normalize.
package gateway

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gofrs/uuid"

	"github.com/quickbite/foodorder/internal/config"
)

// Parameter names of the gateway wire protocol.
const (
	FieldMerchant       = "pay_merchant"
	FieldTxnRef         = "pay_txn_ref"
	FieldAmount         = "pay_amount"
	FieldOrderInfo      = "pay_order_info"
	FieldBankCode       = "pay_bank_code"
	FieldClientIP       = "pay_client_ip"
	FieldReturnURL      = "pay_return_url"
	FieldCreateDate     = "pay_create_date"
	FieldResponseCode   = "pay_response_code"
	FieldSecureHash     = "pay_secure_hash"
	FieldSecureHashType = "pay_secure_hash_type"
)

// ResponseCodeSuccess is the gateway's "payment approved" code.
const ResponseCodeSuccess = "00"

// requestFieldOrder is the canonical outbound ordering. The gateway
// invalidates any signature computed over a different ordering.
var requestFieldOrder = []string{
	FieldMerchant,
	FieldTxnRef,
	FieldAmount,
	FieldOrderInfo,
	FieldBankCode,
	FieldClientIP,
	FieldReturnURL,
	FieldCreateDate,
}

var (
	ErrInvalidSignature = errors.New("gateway: invalid callback signature")
	ErrBadTxnRef        = errors.New("gateway: malformed transaction reference")
)

// RedirectRequest carries the per-payment fields of an outbound redirect.
// Amount is in regular currency units; the ×100 minor-unit scaling the
// gateway expects happens here and nowhere else.
type RedirectRequest struct {
	TxnRef    string
	Amount    int64
	OrderInfo string
	BankCode  string
	ClientIP  string
}

// Adapter signs outbound redirects and verifies inbound callbacks.
type Adapter struct {
	cfg config.GatewayConfig
	now func() time.Time
}

func New(cfg config.GatewayConfig) *Adapter {
	return &Adapter{cfg: cfg, now: time.Now}
}

// NewTxnRef builds a transaction reference embedding the order id, with a
// random suffix so retried attempts for the same order stay distinguishable
// on the gateway side.
func (a *Adapter) NewTxnRef(orderID int64) (string, error) {
	nonce, err := uuid.NewV4()
	if err != nil {
		return "", fmt.Errorf("gateway: failed to generate txn ref nonce: %w", err)
	}
	return fmt.Sprintf("%d-%s", orderID, strings.Split(nonce.String(), "-")[0]), nil
}

// OrderIDFromTxnRef recovers the order id embedded by NewTxnRef.
func OrderIDFromTxnRef(ref string) (int64, error) {
	idPart, _, _ := strings.Cut(ref, "-")
	id, err := strconv.ParseInt(idPart, 10, 64)
	if err != nil || id <= 0 {
		return 0, ErrBadTxnRef
	}
	return id, nil
}

// BuildRedirect assembles the signed redirect URL the user agent is sent to.
func (a *Adapter) BuildRedirect(req RedirectRequest) (string, error) {
	if req.TxnRef == "" {
		return "", fmt.Errorf("gateway: txn ref is required")
	}
	if req.Amount <= 0 {
		return "", fmt.Errorf("gateway: amount must be positive, got %d", req.Amount)
	}

	values := map[string]string{
		FieldMerchant:   a.cfg.MerchantCode,
		FieldTxnRef:     req.TxnRef,
		FieldAmount:     strconv.FormatInt(req.Amount*100, 10),
		FieldOrderInfo:  req.OrderInfo,
		FieldBankCode:   req.BankCode,
		FieldClientIP:   req.ClientIP,
		FieldReturnURL:  a.cfg.ReturnURL,
		FieldCreateDate: a.now().Format("20060102150405"),
	}

	data := canonicalize(requestFieldOrder, values)
	sig := sign(data, a.cfg.SecretKey)

	return a.cfg.PayURL + "?" + data + "&" + FieldSecureHash + "=" + sig, nil
}

// VerifyCallback checks the signature over the callback parameters. Any
// mismatch is a hard rejection; the caller must not touch state on error.
func (a *Adapter) VerifyCallback(params url.Values) error {
	got := params.Get(FieldSecureHash)
	if got == "" {
		return ErrInvalidSignature
	}

	keys := make([]string, 0, len(params))
	for k := range params {
		if k == FieldSecureHash || k == FieldSecureHashType {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	values := make(map[string]string, len(keys))
	for _, k := range keys {
		values[k] = params.Get(k)
	}

	want := sign(canonicalize(keys, values), a.cfg.SecretKey)
	if !hmac.Equal([]byte(want), []byte(strings.ToLower(got))) {
		return ErrInvalidSignature
	}
	return nil
}

// Outcome extracts the transaction reference and approval result from a
// verified callback.
func Outcome(params url.Values) (txnRef string, success bool) {
	return params.Get(FieldTxnRef), params.Get(FieldResponseCode) == ResponseCodeSuccess
}

// canonicalize serializes fields in the given order as key=urlencode(value)
// joined by '&', spaces as '+'. Empty values are omitted; omission must be
// stable or the signature breaks.
func canonicalize(order []string, values map[string]string) string {
	var b strings.Builder
	for _, k := range order {
		v := values[k]
		if v == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('&')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(v))
	}
	return b.String()
}

func sign(data, secret string) string {
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write([]byte(data))
	return hex.EncodeToString(mac.Sum(nil))
}
