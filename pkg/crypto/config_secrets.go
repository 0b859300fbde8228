package crypto

import (
	"encoding/json"
	"fmt"
	"strings"
)

// EncryptedValuePrefix marks a config value that holds a sealed credential.
// The remainder is base64(nonce || ciphertext || tag) of the value's JSON encoding.
const EncryptedValuePrefix = "enc:v1:"

// IsEncryptedValue reports whether v is a sealed credential marker.
func IsEncryptedValue(v any) bool {
	s, ok := v.(string)
	return ok && strings.HasPrefix(s, EncryptedValuePrefix)
}

// EncryptConfigCredentials returns a copy of cfg in which every key listed in
// keys is replaced by its sealed marker. Other keys are copied unchanged.
// cfg must hold plaintext: a credential that already looks like a marker is
// sealed like any other value.
func EncryptConfigCredentials(enc *CredentialEncryptor, cfg map[string]any, keys map[string]struct{}) (map[string]any, error) {
	out := make(map[string]any, len(cfg))
	for k, v := range cfg {
		if _, secret := keys[k]; !secret {
			out[k] = v
			continue
		}
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("failed to encode credential %q: %w", k, err)
		}
		sealed, err := enc.Encrypt(string(raw))
		if err != nil {
			return nil, fmt.Errorf("failed to encrypt credential %q: %w", k, err)
		}
		out[k] = EncryptedValuePrefix + sealed
	}
	return out, nil
}

// DecryptConfigCredentials returns a copy of cfg with the sealed markers of
// the keys listed in keys opened back into their original JSON values. Public
// keys are never decrypted, whatever they contain.
func DecryptConfigCredentials(enc *CredentialEncryptor, cfg map[string]any, keys map[string]struct{}) (map[string]any, error) {
	out := make(map[string]any, len(cfg))
	for k, v := range cfg {
		if _, secret := keys[k]; !secret || !IsEncryptedValue(v) {
			out[k] = v
			continue
		}
		plain, err := enc.Decrypt(strings.TrimPrefix(v.(string), EncryptedValuePrefix))
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt credential %q: %w", k, err)
		}
		var decoded any
		if err := json.Unmarshal([]byte(plain), &decoded); err != nil {
			return nil, fmt.Errorf("failed to decode credential %q: %w", k, err)
		}
		out[k] = decoded
	}
	return out, nil
}
