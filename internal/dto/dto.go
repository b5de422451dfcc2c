package dto

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/flicky/marketplace-api/internal/model"
)

// MalformedMessage is the client-facing text for ErrMalformed.
const MalformedMessage = "The request object is missing at least one of the required attributes or has invalid attributes"

// ErrMalformed is returned for any body that fails key-set or value checks.
var ErrMalformed = errors.New("malformed request body")

// Mode selects the key-set rule applied to a request body.
type Mode int

const (
	// ModeCreate requires the required keys and allows the optional ones.
	ModeCreate Mode = iota
	// ModeReplace requires exactly the full key set.
	ModeReplace
	// ModePatch allows any subset of the key set, including none.
	ModePatch
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// --- Product ---

var (
	productKeys         = []string{"name", "description", "price", "stock"}
	productRequiredKeys = []string{"name", "description", "price"}
)

type ProductInput struct {
	Name        *string          `json:"name" validate:"omitnil,max=100"`
	Description *string          `json:"description" validate:"omitnil,max=500"`
	Price       *decimal.Decimal `json:"price"`
	Stock       *int             `json:"stock" validate:"omitnil,gte=0"`
}

func (in *ProductInput) check() error {
	if err := validate.Struct(in); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if in.Price != nil && in.Price.IsNegative() {
		return fmt.Errorf("%w: negative price", ErrMalformed)
	}
	return nil
}

// DecodeProduct parses a single product object under the given mode.
func DecodeProduct(body []byte, mode Mode) (*ProductInput, error) {
	raw, err := decodeObject(body)
	if err != nil {
		return nil, err
	}
	if err := checkKeys(raw, productKeys, productRequiredKeys, mode); err != nil {
		return nil, err
	}
	if price, ok := raw["price"]; ok && !isJSONNumber(price) {
		return nil, fmt.Errorf("%w: price must be a number", ErrMalformed)
	}
	in := &ProductInput{}
	if err := unmarshalStrict(body, in); err != nil {
		return nil, err
	}
	if err := in.check(); err != nil {
		return nil, err
	}
	return in, nil
}

// DecodeProducts accepts either one product object or an array of them.
// Every element is validated before any is returned.
func DecodeProducts(body []byte) ([]ProductInput, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		in, err := DecodeProduct(trimmed, ModeCreate)
		if err != nil {
			return nil, err
		}
		return []ProductInput{*in}, nil
	}

	var items []json.RawMessage
	if err := json.Unmarshal(trimmed, &items); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: empty batch", ErrMalformed)
	}
	out := make([]ProductInput, 0, len(items))
	for i, item := range items {
		in, err := DecodeProduct(item, ModeCreate)
		if err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
		out = append(out, *in)
	}
	return out, nil
}

// --- Order ---

var (
	orderKeys         = []string{"status", "billingAddress", "paymentMethod"}
	orderRequiredKeys = []string{"billingAddress"}
)

type OrderInput struct {
	Status         *string `json:"status" validate:"omitnil,oneof=pending completed canceled"`
	BillingAddress *string `json:"billingAddress" validate:"omitnil,min=1"`
	PaymentMethod  *string `json:"paymentMethod" validate:"omitnil,oneof=credit debit cash"`
}

func DecodeOrder(body []byte, mode Mode) (*OrderInput, error) {
	raw, err := decodeObject(body)
	if err != nil {
		return nil, err
	}
	if err := checkKeys(raw, orderKeys, orderRequiredKeys, mode); err != nil {
		return nil, err
	}
	in := &OrderInput{}
	if err := unmarshalStrict(body, in); err != nil {
		return nil, err
	}
	if err := validate.Struct(in); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return in, nil
}

func decodeObject(body []byte) (map[string]json.RawMessage, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil || raw == nil {
		return nil, fmt.Errorf("%w: body is not a JSON object", ErrMalformed)
	}
	for k, v := range raw {
		if bytes.Equal(bytes.TrimSpace(v), []byte("null")) {
			return nil, fmt.Errorf("%w: %s is null", ErrMalformed, k)
		}
	}
	return raw, nil
}

// isJSONNumber reports whether v is a bare JSON number. decimal.Decimal
// also accepts quoted strings, which the API does not.
func isJSONNumber(v json.RawMessage) bool {
	var n json.Number
	v = bytes.TrimSpace(v)
	return len(v) > 0 && v[0] != '"' && json.Unmarshal(v, &n) == nil
}

func unmarshalStrict(body []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return nil
}

func checkKeys(raw map[string]json.RawMessage, allowed, required []string, mode Mode) error {
	allowedSet := make(map[string]bool, len(allowed))
	for _, k := range allowed {
		allowedSet[k] = true
	}
	for k := range raw {
		if !allowedSet[k] {
			return fmt.Errorf("%w: unknown attribute %q", ErrMalformed, k)
		}
	}

	switch mode {
	case ModeCreate:
		for _, k := range required {
			if _, ok := raw[k]; !ok {
				return fmt.Errorf("%w: missing %q", ErrMalformed, k)
			}
		}
	case ModeReplace:
		if len(raw) != len(allowed) {
			return fmt.Errorf("%w: expected exactly %v", ErrMalformed, allowed)
		}
	}
	return nil
}

// --- Responses ---

type LineItemResponse struct {
	ID          int64           `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price"`
	Quantity    int             `json:"quantity"`
	Self        string          `json:"self"`
}

type OrderResponse struct {
	ID             int64                `json:"id"`
	User           string               `json:"user"`
	Status         model.OrderStatus    `json:"status"`
	BillingAddress string               `json:"billingAddress"`
	PaymentMethod  *model.PaymentMethod `json:"paymentMethod"`
	Total          decimal.Decimal      `json:"total"`
	Products       []LineItemResponse   `json:"products"`
	DateCreated    time.Time            `json:"dateCreated"`
	DateModified   time.Time            `json:"dateModified"`
	Self           string               `json:"self"`
}

type ProductOrderResponse struct {
	ID       int64  `json:"id"`
	Quantity int    `json:"quantity"`
	Self     string `json:"self"`
}

type ProductResponse struct {
	ID          int64                  `json:"id"`
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Price       decimal.Decimal        `json:"price"`
	Stock       int                    `json:"stock"`
	Orders      []ProductOrderResponse `json:"orders"`
	Self        string                 `json:"self"`
}

type UserResponse struct {
	ID     string          `json:"id"`
	Name   string          `json:"name"`
	Email  string          `json:"email"`
	Orders []OrderResponse `json:"orders"`
	Self   string          `json:"self"`
}

type OrderListResponse struct {
	Orders     []OrderResponse `json:"orders"`
	TotalItems int             `json:"totalItems"`
	Next       string          `json:"next,omitempty"`
}

type ProductListResponse struct {
	Products   []ProductResponse `json:"products"`
	TotalItems int               `json:"totalItems"`
	Next       string            `json:"next,omitempty"`
}

type UserListResponse struct {
	Users      []UserResponse `json:"users"`
	TotalItems int            `json:"totalItems"`
	Next       string         `json:"next,omitempty"`
}

// --- Auth ---

type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type TokenResponse struct {
	AccessToken string `json:"access_token"`
	IDToken     string `json:"id_token,omitempty"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in,omitempty"`
	Scope       string `json:"scope,omitempty"`
}
