package device

import "strings"

// MaxAddressLength is the longest node address the controller accepts.
const MaxAddressLength = 14

// DeriveAddress turns a device id into its node address: lower-cased,
// '_' and '-' removed, truncated to MaxAddressLength characters.
//
//	DeriveAddress("Kitchen_Light-01") == "kitchenlight01"
func DeriveAddress(id string) string {
	addr := strings.ToLower(id)
	addr = strings.NewReplacer("_", "", "-", "").Replace(addr)
	if runes := []rune(addr); len(runes) > MaxAddressLength {
		addr = string(runes[:MaxAddressLength])
	}
	return addr
}
