package codec

import (
	"github.com/gopcua/opcua/ua"
)

const securityPolicyPrefix = "http://opcfoundation.org/UA/SecurityPolicy#"

var securityModes = map[string]ua.MessageSecurityMode{
	"None":           ua.MessageSecurityModeNone,
	"Sign":           ua.MessageSecurityModeSign,
	"SignAndEncrypt": ua.MessageSecurityModeSignAndEncrypt,
}

var securityPolicies = map[string]string{
	"None":                  securityPolicyPrefix + "None",
	"Basic128Rsa15":         securityPolicyPrefix + "Basic128Rsa15",
	"Basic256":              securityPolicyPrefix + "Basic256",
	"Basic256Sha256":        securityPolicyPrefix + "Basic256Sha256",
	"Aes128_Sha256_RsaOaep": securityPolicyPrefix + "Aes128_Sha256_RsaOaep",
	"Aes256_Sha256_RsaPss":  securityPolicyPrefix + "Aes256_Sha256_RsaPss",
}

// OPCUASecurityMode maps a configured mode name to the wire enum. Unknown
// names resolve to Invalid.
func OPCUASecurityMode(mode string) ua.MessageSecurityMode {
	if m, ok := securityModes[mode]; ok {
		return m
	}
	return ua.MessageSecurityModeInvalid
}

// OPCUASecurityPolicyURI maps a configured policy name to its URI. Unknown
// names resolve to "Invalid".
func OPCUASecurityPolicyURI(policy string) string {
	if uri, ok := securityPolicies[policy]; ok {
		return uri
	}
	return "Invalid"
}
