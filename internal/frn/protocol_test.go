package frn

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLoginLineFormat(t *testing.T) {
	opts := loginOptions{
		Server:          "frn.example.net",
		Port:            10024,
		EmailAddress:    "op@example.net",
		DynPassword:     "sekret",
		CallsignAndUser: "N0CALL, Pat",
		ClientType:      "Crosslink gateway",
		BandAndChannel:  "PMR 07 CTC 12",
		Description:     "Hilltop node",
		Country:         "Germany",
		CityCityPart:    "Berlin - Mitte",
		Net:             "Default",
		Version:         "2.0.2",
	}

	assert.Equal(t,
		"CT:<VX>2.0.2</VX><EA>op@example.net</EA><PW>sekret</PW>"+
			"<ON>N0CALL, Pat</ON><CL>Crosslink gateway</CL>"+
			"<BC>PMR 07 CTC 12</BC><DS>Hilltop node</DS>"+
			"<NN>Germany</NN><CT>Berlin - Mitte</CT><NT>Default</NT>\n",
		opts.loginLine())
}

func TestRequestTokens(t *testing.T) {
	assert.Equal(t, "RX0", RequestRX0.token())
	assert.Equal(t, "TX0", RequestTX0.token())
	assert.Equal(t, "TX1", RequestTX1.token())
	assert.Equal(t, "P", RequestPing.token())
	assert.Equal(t, "", Request(42).token())
}

func TestVoicePacketGeometry(t *testing.T) {
	assert.Equal(t, 1600, SendBufferSize)
	assert.Equal(t, 325, VoicePacketSize)
}
