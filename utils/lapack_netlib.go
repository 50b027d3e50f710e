//go:build netlib
// +build netlib

package utils

/*
#cgo CFLAGS: -march=native -mavx -mavx2
#cgo LDFLAGS: -lopenblas -lgfortran -lm -lpthread
#include <cblas.h>
*/
import "C"

import (
	"log/slog"

	"gonum.org/v1/gonum/blas/blas64"
	netblas "gonum.org/v1/netlib/blas/netlib"
)

// Building with -tags netlib routes the gonum dense kernels used by the
// filament and closed-loop solves through OpenBLAS.
func init() {
	blas64.Use(netblas.Implementation{})
	slog.Info("using netlib to accelerate BLAS")
}
