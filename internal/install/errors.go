package install

import (
	"errors"
	"fmt"
	"strings"
)

// ErrAlreadyCurrent is returned by a StreamFactory when there is nothing to
// update.
var ErrAlreadyCurrent = errors.New("already up to date")

// ProvisioningError means the runtime environment could not be created.
type ProvisioningError struct {
	Path string
	Err  error
}

func (e *ProvisioningError) Error() string {
	return fmt.Sprintf("provisioning environment %s: %v", e.Path, e.Err)
}

func (e *ProvisioningError) Unwrap() error { return e.Err }

// ResolutionError means the installed version or the update source could
// not be read.
type ResolutionError struct {
	Op  string
	Err error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("resolving %s: %v", e.Op, e.Err)
}

func (e *ResolutionError) Unwrap() error { return e.Err }

// PostProcessingError means applying changes or removing outdated files
// failed and the game directory may be inconsistent.
type PostProcessingError struct {
	Units []string
	Err   error
}

func (e *PostProcessingError) Error() string {
	if len(e.Units) == 0 {
		return fmt.Sprintf("post-processing: %v", e.Err)
	}
	return fmt.Sprintf("post-processing (%s): %v", strings.Join(e.Units, ", "), e.Err)
}

func (e *PostProcessingError) Unwrap() error { return e.Err }

// AssetInstallError means the dependent assets failed after the main update
// itself succeeded.
type AssetInstallError struct {
	Err error
}

func (e *AssetInstallError) Error() string {
	return fmt.Sprintf("installing dependent assets: %v", e.Err)
}

func (e *AssetInstallError) Unwrap() error { return e.Err }
