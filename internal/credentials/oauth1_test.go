package credentials

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestSignatureBaseString_RFC5849Vector checks signatureBaseString against
// the worked example from RFC 5849 Appendix A.1, so a correct signature base
// string is verified independently of our own signing key handling.
func TestSignatureBaseString_RFC5849Vector(t *testing.T) {
	params := map[string]string{
		"oauth_consumer_key":     "dpf43f3p2l4k3l03",
		"oauth_token":            "nnch734d00sl2jdk",
		"oauth_signature_method": "HMAC-SHA1",
		"oauth_timestamp":        "1191242096",
		"oauth_nonce":            "kllo9940pd9333jh",
		"oauth_version":          "1.0",
		"file":                   "vacation.jpg",
		"size":                   "original",
	}

	got := signatureBaseString("GET", "http://photos.example.net/photos", params)
	want := "GET&http%3A%2F%2Fphotos.example.net%2Fphotos&file%3Dvacation.jpg%26oauth_consumer_key%3Ddpf43f3p2l4k3l03%26oauth_nonce%3Dkllo9940pd9333jh%26oauth_signature_method%3DHMAC-SHA1%26oauth_timestamp%3D1191242096%26oauth_token%3Dnnch734d00sl2jdk%26oauth_version%3D1.0%26size%3Doriginal"

	assert.Equal(t, want, got)
}

// TestSignatureBaseString_RFC5849Signature carries the base string the rest
// of the way: the HMAC-SHA1 digest over the RFC's consumer/token secrets
// must equal the RFC's published signature.
func TestSignatureBaseString_RFC5849Signature(t *testing.T) {
	params := map[string]string{
		"oauth_consumer_key":     "dpf43f3p2l4k3l03",
		"oauth_token":            "nnch734d00sl2jdk",
		"oauth_signature_method": "HMAC-SHA1",
		"oauth_timestamp":        "1191242096",
		"oauth_nonce":            "kllo9940pd9333jh",
		"oauth_version":          "1.0",
		"file":                   "vacation.jpg",
		"size":                   "original",
	}

	baseString := signatureBaseString("GET", "http://photos.example.net/photos", params)
	signingKey := percentEncode("kd94hf93k423kf44") + "&" + percentEncode("pfkkdhi9sl3r4s00")

	mac := hmac.New(sha1.New, []byte(signingKey))
	mac.Write([]byte(baseString))
	got := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	assert.Equal(t, "tR3+Ty81lMeYAr/Fid0kMTYa/WM=", got)
}

func TestPercentEncode_UnreservedCharacters(t *testing.T) {
	assert.Equal(t, "abc-._~XYZ09", percentEncode("abc-._~XYZ09"))
	assert.Equal(t, "%20", percentEncode(" "))
	assert.Equal(t, "a%2Fb", percentEncode("a/b"))
}

func TestSignRequest_ProducesWellFormedAuthorizationHeader(t *testing.T) {
	m := NewOAuth1Manager(nil, 0)
	header, err := m.SignRequest("POST", "https://api.example.com/1/statuses/update.json",
		map[string]string{"status": "hello"}, "consumerkey", "consumersecret", "accesstoken", "accesssecret")
	require.NoError(t, err)

	assert.Contains(t, header, "OAuth ")
	assert.Contains(t, header, `oauth_consumer_key="consumerkey"`)
	assert.Contains(t, header, `oauth_signature_method="HMAC-SHA1"`)
	assert.Contains(t, header, "oauth_signature=")
}
