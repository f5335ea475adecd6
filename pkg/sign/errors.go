package sign

import "errors"

var ErrRefused = errors.New("signer refused to sign")
