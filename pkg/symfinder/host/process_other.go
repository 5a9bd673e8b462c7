//go:build !linux && !darwin && !windows

package host

import "github.com/coral-mesh/symfinder/pkg/symfinder"

type platform struct{}

func newPlatform() (*platform, error) {
	return nil, ErrUnsupportedPlatform
}

func (p *platform) open(string) (symfinder.Handle, error) {
	return 0, ErrUnsupportedPlatform
}

func (p *platform) close(symfinder.Handle) error {
	return ErrUnsupportedPlatform
}

func (p *platform) module(symfinder.Handle) (symfinder.ModuleInfo, error) {
	return symfinder.ModuleInfo{}, ErrUnsupportedPlatform
}

func (p *platform) readable(uintptr, uint64) error {
	return ErrUnsupportedPlatform
}
