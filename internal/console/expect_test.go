package console

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPatternMatch(t *testing.T) {
	tests := []struct {
		name    string
		pattern string
		input   string
		wantOK  bool
		wantEnd int
	}{
		{
			name:    "literal present",
			pattern: "login:",
			input:   "FreeBSD/amd64 (freebsd) (ttyu0)\r\n\r\nlogin: ",
			wantOK:  true,
			wantEnd: 41,
		},
		{
			name:    "literal absent",
			pattern: "login:",
			input:   "Booting...",
			wantOK:  false,
		},
		{
			name:    "wildcard spans lines",
			pattern: "Welcome*Autoboot",
			input:   "Welcome to FreeBSD\r\nAutoboot in 10 seconds",
			wantOK:  true,
			wantEnd: 28,
		},
		{
			name:    "wildcard segments out of order",
			pattern: "second*first",
			input:   "first then second",
			wantOK:  false,
		},
		{
			name:    "empty input",
			pattern: "anything",
			input:   "",
			wantOK:  false,
		},
		{
			name:    "only wildcards",
			pattern: "**",
			input:   "whatever",
			wantOK:  true,
			wantEnd: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			end, ok := NewPattern(tt.pattern).Match([]byte(tt.input))
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.Equal(t, tt.wantEnd, end)
			}
		})
	}
}

func TestPatternMatchEndAdvancesPastMatch(t *testing.T) {
	p := NewPattern("New Password:")
	input := "Changing local password for root\r\nNew Password:"

	end, ok := p.Match([]byte(input))
	assert.True(t, ok)
	assert.Equal(t, len(input), end)
}

func TestMatchTokenIgnoresEchoedInput(t *testing.T) {
	const token = "Zq3vX8pLm2Kd7RwT"

	// The input line echo contains the token preceded by "echo ", the
	// output occurrence follows a newline.
	transcript := "# service sshd start ; echo " + token + "\r\n" +
		"Starting sshd.\r\n" +
		token + "\r\n"

	end, ok := matchToken([]byte(transcript), token)
	assert.True(t, ok)

	// The match must be the second (output) occurrence, which ends just
	// before the trailing line break.
	assert.Equal(t, len(transcript)-2, end)
}

func TestMatchTokenInputEchoOnlyNoMatch(t *testing.T) {
	const token = "Zq3vX8pLm2Kd7RwT"

	transcript := "# ls ; echo " + token + "\r\nfile1 file2\r\n"

	_, ok := matchToken([]byte(transcript), token)
	assert.False(t, ok)
}

func TestMatchTokenToleratesOneStrayByte(t *testing.T) {
	const token = "Zq3vX8pLm2Kd7RwT"

	// Some renderers insert a single control byte between the newline and
	// the token output.
	transcript := "done\r\n\x1b" + token + "\r\n"

	end, ok := matchToken([]byte(transcript), token)
	assert.True(t, ok)
	assert.Equal(t, len("done\r\n\x1b"+token), end)
}

func TestMatchTokenRejectsTwoStrayBytes(t *testing.T) {
	const token = "Zq3vX8pLm2Kd7RwT"

	transcript := "done\r\nxy" + token + "\r\n"

	_, ok := matchToken([]byte(transcript), token)
	assert.False(t, ok)
}

func TestNewTokenAlphanumeric(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 32; i++ {
		tok, err := newToken()
		assert.NoError(t, err)
		assert.Len(t, tok, tokenLength)
		for _, r := range tok {
			assert.Contains(t, tokenAlphabet, string(r))
		}
		assert.False(t, seen[tok], "token repeated")
		seen[tok] = true
	}
}
