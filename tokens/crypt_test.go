package tokens

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCipher(t *testing.T) {
	t.Run("seal and open round trip", func(t *testing.T) {
		require := require.New(t)
		c := NewCipher("hunter2")

		sealed, err := c.Seal("AT1")
		require.NoError(err)
		require.True(strings.HasPrefix(sealed, encPrefix))
		require.NotContains(sealed, "AT1")

		plain, err := c.Open(sealed)
		require.NoError(err)
		require.Equal("AT1", plain)
	})

	t.Run("distinct salts per seal", func(t *testing.T) {
		require := require.New(t)
		c := NewCipher("hunter2")

		a, err := c.Seal("AT1")
		require.NoError(err)
		b, err := c.Seal("AT1")
		require.NoError(err)
		require.NotEqual(a, b)
	})

	t.Run("plaintext passes through", func(t *testing.T) {
		require := require.New(t)
		c := NewCipher("hunter2")

		plain, err := c.Open("AT1")
		require.NoError(err)
		require.Equal("AT1", plain)

		var nilCipher *Cipher
		plain, err = nilCipher.Open("AT1")
		require.NoError(err)
		require.Equal("AT1", plain)

		sealed, err := nilCipher.Seal("AT1")
		require.NoError(err)
		require.Equal("AT1", sealed)
	})

	t.Run("sealed value without cipher is a config error", func(t *testing.T) {
		require := require.New(t)
		sealed, err := NewCipher("hunter2").Seal("AT1")
		require.NoError(err)

		var nilCipher *Cipher
		_, err = nilCipher.Open(sealed)
		require.ErrorIs(err, ErrNoCipher)
	})

	t.Run("wrong passphrase fails", func(t *testing.T) {
		require := require.New(t)
		sealed, err := NewCipher("hunter2").Seal("AT1")
		require.NoError(err)

		_, err = NewCipher("*******").Open(sealed)
		require.Error(err)
	})

	t.Run("empty passphrase means no cipher", func(t *testing.T) {
		require.Nil(t, NewCipher(""))
	})
}
