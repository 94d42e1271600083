/*
 * S370 - CKD image initialization tool.
 *
 * Copyright 2024, Richard Cornwell
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in
 * all copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 */

package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/rcornwell/S370dasd/emu/geometry"
	"github.com/rcornwell/S370dasd/util/ckdimage"
	"github.com/rcornwell/S370dasd/util/xlat"
)

// Settings may also come from CKDINIT_<FLAG> environment variables.
const envPrefix = "CKDINIT"

func main() {
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "ckdinit: "+err.Error())
		os.Exit(1)
	}
}

// Bind command flags to settings.
func bindSettings(v *viper.Viper, flags *pflag.FlagSet) error {
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	return v.BindPFlags(flags)
}

func newRootCmd(out io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:           "ckdinit",
		Short:         "Create and inspect CKD disk images",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	root.SetOut(out)
	root.AddCommand(newCreateCmd(out), newInfoCmd(out), newModelsCmd(out))
	return root
}

func newCreateCmd(out io.Writer) *cobra.Command {
	v := viper.New()
	cmd := &cobra.Command{
		Use:   "create <image>",
		Short: "Create a formatted image",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return create(out, args[0], v.GetString("type"), v.GetInt("cyls"),
				v.GetString("volser"), v.GetBool("force"))
		},
	}
	flags := cmd.Flags()
	flags.StringP("type", "t", "3390", "device model")
	flags.IntP("cyls", "c", 0, "cylinders, 0 for full device")
	flags.StringP("volser", "v", "", "volume serial, empty for no label")
	flags.BoolP("force", "f", false, "overwrite existing image")
	cobra.CheckErr(bindSettings(v, flags))
	return cmd
}

func create(out io.Writer, name, model string, cyls int, volser string, force bool) error {
	dasd := geometry.Lookup(strings.ToUpper(model))
	if dasd == nil {
		return fmt.Errorf("unknown device model: %s", model)
	}
	if cyls < 0 || cyls > dasd.TotalCyls() {
		return fmt.Errorf("%s has at most %d cylinders", dasd.Name, dasd.TotalCyls())
	}
	if len(volser) > 6 {
		return fmt.Errorf("volume serial %q longer than 6 characters", volser)
	}
	if !force {
		if _, err := os.Stat(name); err == nil {
			return fmt.Errorf("%s exists, use --force to overwrite", name)
		} else if !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}
	if cyls == 0 {
		cyls = dasd.TotalCyls()
	}
	if err := ckdimage.Create(name, dasd, cyls, strings.ToUpper(volser)); err != nil {
		return err
	}
	fmt.Fprintf(out, "%s: %s %d cylinders %d heads\n", name, dasd.Name, cyls, dasd.Heads)
	return nil
}

func newInfoCmd(out io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "info <image>",
		Short: "Show geometry and volume label of an image",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return info(out, args[0])
		},
	}
}

func info(out io.Writer, name string) error {
	img, err := ckdimage.Open(name, true)
	if err != nil {
		return err
	}
	defer img.Close()

	model := "unknown"
	if dasd := geometry.LookupType(img.DevType(), img.Cyls()); dasd != nil {
		model = dasd.Name
	}
	fmt.Fprintf(out, "file:       %s\n", img.Name())
	fmt.Fprintf(out, "model:      %s\n", model)
	fmt.Fprintf(out, "cylinders:  %d\n", img.Cyls())
	fmt.Fprintf(out, "heads:      %d\n", img.Heads())
	fmt.Fprintf(out, "track size: %d\n", img.TrackSize())

	buf := make([]byte, img.TrackSize())
	if err = img.ReadTrack(0, buf); err != nil {
		return err
	}
	if volser, ok := volumeLabel(buf); ok {
		fmt.Fprintf(out, "volser:     %s\n", volser)
	}
	return nil
}

// Find VOL1 record on track 0.
func volumeLabel(buf []byte) (string, bool) {
	label := make([]byte, 4)
	xlat.StringToEBCDIC("VOL1", label)
	pos := geometry.HASize
	for pos < len(buf) && !ckdimage.IsEOT(buf[pos:]) {
		c := ckdimage.GetCount(buf[pos:])
		if pos+c.Size() > len(buf) {
			break
		}
		key := buf[pos+geometry.CountSize : pos+geometry.CountSize+int(c.KeyLen)]
		data := buf[pos+geometry.CountSize+int(c.KeyLen) : pos+c.Size()]
		if string(key) == string(label) && len(data) >= 10 {
			return strings.TrimSpace(xlat.EBCDICToString(data[4:10])), true
		}
		pos += c.Size()
	}
	return "", false
}

func newModelsCmd(out io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List supported device models",
		Args:  cobra.NoArgs,
		Run: func(_ *cobra.Command, _ []string) {
			for _, name := range geometry.Models() {
				dasd := geometry.Lookup(name)
				fmt.Fprintf(out, "%-5s %5d cylinders %2d heads %6d bytes/track\n",
					dasd.Name, dasd.TotalCyls(), dasd.Heads, dasd.TrackSize())
			}
		},
	}
}
