package diff

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"sort"
)

// Fingerprint returns a deterministic, content-addressed checksum over the
// canonical serialization of the value. Two logically equal contents hash
// identically regardless of field ordering in the input representation.
func Fingerprint(v any) (string, error) {
	canonical, err := CanonicalJSON(v)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	return "sha256:" + hex.EncodeToString(sum[:]), nil
}

// CanonicalJSON serializes v with sorted object keys and normalized numbers
// so that the byte form is stable across marshal implementations.
func CanonicalJSON(v any) ([]byte, error) {
	input, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal for canonicalization: %w", err)
	}

	dec := json.NewDecoder(bytes.NewReader(input))
	dec.UseNumber()
	var normalized any
	if err := dec.Decode(&normalized); err != nil {
		return nil, fmt.Errorf("decode for canonicalization: %w", err)
	}

	buf := &bytes.Buffer{}
	if err := writeCanonical(buf, normalized); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeCanonical(w io.Writer, v any) error {
	switch vv := v.(type) {
	case nil:
		_, err := io.WriteString(w, "null")
		return err
	case bool:
		if vv {
			_, err := io.WriteString(w, "true")
			return err
		}
		_, err := io.WriteString(w, "false")
		return err
	case string:
		b, err := json.Marshal(vv)
		if err != nil {
			return err
		}
		_, err = w.Write(b)
		return err
	case json.Number:
		return writeNumber(w, vv.String())
	case []any:
		if _, err := io.WriteString(w, "["); err != nil {
			return err
		}
		for i, item := range vv {
			if i > 0 {
				if _, err := io.WriteString(w, ","); err != nil {
					return err
				}
			}
			if err := writeCanonical(w, item); err != nil {
				return err
			}
		}
		_, err := io.WriteString(w, "]")
		return err
	case map[string]any:
		keys := make([]string, 0, len(vv))
		for k := range vv {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		if _, err := io.WriteString(w, "{"); err != nil {
			return err
		}
		for i, k := range keys {
			if i > 0 {
				if _, err := io.WriteString(w, ","); err != nil {
					return err
				}
			}
			kb, err := json.Marshal(k)
			if err != nil {
				return err
			}
			if _, err := w.Write(kb); err != nil {
				return err
			}
			if _, err := io.WriteString(w, ":"); err != nil {
				return err
			}
			if err := writeCanonical(w, vv[k]); err != nil {
				return err
			}
		}
		_, err := io.WriteString(w, "}")
		return err
	default:
		return fmt.Errorf("unsupported canonical type %T", v)
	}
}

// writeNumber emits numbers in a normalized form: integers without exponent
// or trailing zeros, everything else via big.Float shortest representation.
func writeNumber(w io.Writer, s string) error {
	if i, ok := new(big.Int).SetString(s, 10); ok {
		_, err := io.WriteString(w, i.String())
		return err
	}
	f, _, err := big.ParseFloat(s, 10, 64, big.ToNearestEven)
	if err != nil {
		return fmt.Errorf("parse number %q: %w", s, err)
	}
	_, err = io.WriteString(w, f.Text('g', -1))
	return err
}
