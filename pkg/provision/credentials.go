package provision

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"golang.org/x/crypto/bcrypt"
)

const (
	hashCost = bcrypt.DefaultCost

	credentialsMode os.FileMode = 0400
	acmeStoreMode   os.FileMode = 0600
	composeMode     os.FileMode = 0644
)

// HashCredential returns an htpasswd line "username:bcrypt-hash".
func HashCredential(username, password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), hashCost)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s:%s", username, hash), nil
}

// VerifyCredential checks a password against an htpasswd line.
func VerifyCredential(line []byte, username, password string) bool {
	user, hash, ok := bytes.Cut(bytes.TrimSpace(line), []byte{':'})
	if !ok || string(user) != username {
		return false
	}
	return bcrypt.CompareHashAndPassword(hash, []byte(password)) == nil
}

// WriteCredentials writes the htpasswd file read by the proxy's basic auth
// middleware. An existing file for the same username and password is kept
// so re-running does not churn the hash.
func WriteCredentials(path, username, password string) (changed bool, err error) {
	existing, err := os.ReadFile(path)
	switch {
	case err == nil:
		if VerifyCredential(existing, username, password) {
			return false, os.Chmod(path, credentialsMode)
		}
		// the file is read-only, replace it instead of truncating
		if err = os.Remove(path); err != nil {
			return false, err
		}
	case !os.IsNotExist(err):
		return false, err
	}
	line, err := HashCredential(username, password)
	if err != nil {
		return false, errors.Wrap(err, "failed to hash password")
	}
	if err = writeNew(path, []byte(line+"\n"), credentialsMode); err != nil {
		return false, err
	}
	return true, nil
}

// EnsureACMEStore creates the proxy's certificate store. Existing stores
// keep their contents so issued certificates survive a re-run.
func EnsureACMEStore(path string) (created bool, err error) {
	_, err = os.Stat(path)
	switch {
	case err == nil:
		return false, os.Chmod(path, acmeStoreMode)
	case !os.IsNotExist(err):
		return false, err
	}
	if err = writeNew(path, nil, acmeStoreMode); err != nil {
		return false, err
	}
	return true, nil
}

// writeNew creates a file that must not already exist with an exact mode.
func writeNew(path string, data []byte, mode os.FileMode) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, mode)
	if err != nil {
		return err
	}
	if _, err = f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err = f.Close(); err != nil {
		return err
	}
	// umask may have cleared bits
	return os.Chmod(path, mode)
}

// writeIfChanged atomically replaces path with data unless it already holds
// exactly that.
func writeIfChanged(path string, data []byte, mode os.FileMode) (changed bool, err error) {
	existing, err := os.ReadFile(path)
	if err == nil && bytes.Equal(existing, data) {
		return false, os.Chmod(path, mode)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return false, err
	}
	defer os.Remove(tmp.Name())
	if _, err = tmp.Write(data); err != nil {
		tmp.Close()
		return false, err
	}
	if err = tmp.Close(); err != nil {
		return false, err
	}
	if err = os.Chmod(tmp.Name(), mode); err != nil {
		return false, err
	}
	return true, os.Rename(tmp.Name(), path)
}
