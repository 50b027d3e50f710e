/*
Copyright © 2020 NAME HERE <EMAIL ADDRESS>

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/notargets/golbm/InputParameters"
	"github.com/notargets/golbm/model_problems/ImmersedBoundary"
	"github.com/notargets/golbm/readfiles"
	"github.com/pkg/profile"
	"github.com/spf13/cobra"
)

// IBMCmd represents the ibm command
var IBMCmd = &cobra.Command{
	Use:   "ibm",
	Short: "Two Dimensional Flow Past Immersed Bodies",
	Long: `
Executes the lattice Boltzmann solver with immersed boundary bodies read from an input file,

golbm ibm -I input.yaml`,
	RunE: func(cmd *cobra.Command, args []string) error {
		m := &ModelIBM{}
		m.InputFile, _ = cmd.Flags().GetString("inputConditionsFile")
		m.RestartFile, _ = cmd.Flags().GetString("restart")
		m.Profile, _ = cmd.Flags().GetString("profile")
		m.Ranks, _ = cmd.Flags().GetInt("ranks")
		m.FinalTime, _ = cmd.Flags().GetFloat64("finalTime")
		m.OutputDir, _ = cmd.Flags().GetString("outputDir")
		m.Verbose, _ = cmd.Flags().GetBool("verbose")
		if m.InputFile == "" {
			return fmt.Errorf("an input conditions file is required")
		}
		ip, err := processInput(m)
		if err != nil {
			return err
		}
		return RunIBM(m, ip)
	},
}

func init() {
	rootCmd.AddCommand(IBMCmd)
	IBMCmd.Flags().StringP("inputConditionsFile", "I", "", "YAML file for input parameters like:\n\t- Case\n\t- Lattice\n\t- Bodies")
	IBMCmd.Flags().StringP("restart", "r", "", "restart file with body positions to resume from")
	IBMCmd.Flags().String("profile", "", "write a profile: cpu or mem")
	IBMCmd.Flags().IntP("ranks", "n", 0, "number of ranks, overrides the input file")
	IBMCmd.Flags().Float64("finalTime", 0, "FinalTime - the target end time for the sim, overrides the input file")
	IBMCmd.Flags().StringP("outputDir", "o", "", "directory for output files, overrides the input file")
	IBMCmd.Flags().BoolP("verbose", "v", false, "print progress")
}

type ModelIBM struct {
	InputFile, RestartFile string
	Profile                string
	OutputDir              string
	Ranks                  int
	FinalTime              float64
	Verbose                bool
}

func processInput(m *ModelIBM) (ip *InputParameters.IBMParameters, err error) {
	var data []byte
	if data, err = os.ReadFile(m.InputFile); err != nil {
		return
	}
	ip = &InputParameters.IBMParameters{}
	if err = ip.Parse(data); err != nil {
		return nil, err
	}
	if ip.GeometryFile != "" && !filepath.IsAbs(ip.GeometryFile) {
		ip.GeometryFile = filepath.Join(filepath.Dir(m.InputFile), ip.GeometryFile)
	}
	if m.Ranks > 0 {
		ip.Ranks = m.Ranks
	}
	if m.FinalTime > 0 {
		ip.FinalTime = m.FinalTime
	}
	if m.OutputDir != "" {
		ip.OutputDir = m.OutputDir
	}
	return
}

func RunIBM(m *ModelIBM, ip *InputParameters.IBMParameters) (err error) {
	switch m.Profile {
	case "":
	case "cpu":
		defer profile.Start(profile.CPUProfile, profile.ProfilePath(ip.OutputDir)).Stop()
	case "mem":
		defer profile.Start(profile.MemProfile, profile.ProfilePath(ip.OutputDir)).Stop()
	default:
		return fmt.Errorf("unknown profile %q, expected cpu or mem", m.Profile)
	}
	if m.Verbose {
		ip.Print()
	}
	if err = os.MkdirAll(ip.OutputDir, 0755); err != nil {
		return
	}
	var s *ImmersedBoundary.Solver
	if s, err = ImmersedBoundary.NewSolver(ip, newLogger()); err != nil {
		return
	}
	s.Verbose = m.Verbose
	if m.RestartFile != "" {
		img, rerr := readfiles.ReadRestartFile(m.RestartFile)
		if rerr != nil {
			return rerr
		}
		if err = s.RestartBodies(img); err != nil {
			return
		}
	}
	return s.Solve()
}
