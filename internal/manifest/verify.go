package manifest

import (
	"bytes"
	"fmt"
	"os"

	"github.com/ProtonMail/go-crypto/openpgp"
)

// verifyDetached checks a detached (usually armored) OpenPGP signature over
// data against the armored keyring at keyringPath.
func verifyDetached(keyringPath string, data, signature []byte) error {
	keyringFile, err := os.Open(keyringPath)
	if err != nil {
		return fmt.Errorf("opening keyring: %w", err)
	}
	defer keyringFile.Close()

	keyring, err := openpgp.ReadArmoredKeyRing(keyringFile)
	if err != nil {
		if _, seekErr := keyringFile.Seek(0, 0); seekErr != nil {
			return fmt.Errorf("reading keyring: %w", err)
		}

		keyring, err = openpgp.ReadKeyRing(keyringFile)
		if err != nil {
			return fmt.Errorf("reading keyring: %w", err)
		}
	}

	if len(keyring) == 0 {
		return fmt.Errorf("keyring %s is empty", keyringPath)
	}

	_, err = openpgp.CheckArmoredDetachedSignature(keyring, bytes.NewReader(data), bytes.NewReader(signature), nil)
	if err != nil {
		_, err = openpgp.CheckDetachedSignature(keyring, bytes.NewReader(data), bytes.NewReader(signature), nil)
	}

	if err != nil {
		return fmt.Errorf("signature verification failed: %w", err)
	}

	return nil
}
