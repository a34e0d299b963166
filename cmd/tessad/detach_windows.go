package main

import "github.com/tessacoin/tessanode/errors"

func detach(string) (int, error) {
	return 0, errors.NewConfigurationError("-daemon is not supported on windows")
}
