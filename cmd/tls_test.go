package main

import (
	"testing"

	"chatcore/pkg/config"

	"github.com/stretchr/testify/require"
)

func TestBuildTLSConfig_SelfSignedOutsideProduction(t *testing.T) {
	tlsCfg, certFile, keyFile, err := buildTLSConfig(config.TLSConfig{AllowSelfSigned: true}, "development")
	require.NoError(t, err)
	require.Len(t, tlsCfg.Certificates, 1)
	require.Empty(t, certFile)
	require.Empty(t, keyFile)
}

func TestBuildTLSConfig_NoCertificates(t *testing.T) {
	_, _, _, err := buildTLSConfig(config.TLSConfig{AllowSelfSigned: true}, "production")
	require.Error(t, err)

	_, _, _, err = buildTLSConfig(config.TLSConfig{}, "development")
	require.Error(t, err)
}

func TestBuildTLSConfig_BadFiles(t *testing.T) {
	_, _, _, err := buildTLSConfig(config.TLSConfig{CertPath: "/nope/cert.pem", KeyPath: "/nope/key.pem"}, "development")
	require.Error(t, err)
}
