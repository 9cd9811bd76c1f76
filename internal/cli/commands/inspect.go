package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"pvfs/internal/ntvfs"
	"pvfs/internal/pvfs"
	"pvfs/internal/storage"
)

var mangleCmd = &cobra.Command{
	Use:   "mangle NAME...",
	Short: "Print the 8.3 short names clients see",
	Long: `Prints the short name generated for each NAME using posix.mangle_prefix.

Example:
  pvfs mangle "Quarterly Report.xlsx" notes.txt`,
	Args: cobra.MinimumNArgs(1),
	RunE: runMangle,
}

var streamsCmd = &cobra.Command{
	Use:   "streams PATH",
	Short: "List the data streams of a file",
	Args:  cobra.ExactArgs(1),
	RunE:  runStreams,
}

var dosattrCmd = &cobra.Command{
	Use:   "dosattr PATH",
	Short: "Show the DOS attributes and names of a file",
	Args:  cobra.ExactArgs(1),
	RunE:  runDosattr,
}

func init() {
	rootCmd.AddCommand(mangleCmd, streamsCmd, dosattrCmd)
}

func runMangle(cmd *cobra.Command, args []string) error {
	s, err := loadSettings()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	for _, name := range args {
		fmt.Fprintf(out, "%-12s  %s\n", pvfs.ShortName(s.Posix.ManglePrefix, name), name)
	}
	return nil
}

// localShare opens the directory holding path as a share with the
// configured attribute store and returns a connection plus the wire name
// of path within it.
func localShare(path string) (*pvfs.Conn, string, func(), error) {
	s, err := loadSettings()
	if err != nil {
		return nil, "", nil, err
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, "", nil, err
	}
	// Streams are addressed as FILE:NAME; stat only the file part.
	file, stream := abs, ""
	if i := strings.LastIndexByte(filepath.Base(abs), ':'); i >= 0 {
		file = filepath.Join(filepath.Dir(abs), filepath.Base(abs)[:i])
		stream = filepath.Base(abs)[i:]
	}
	if _, err := os.Lstat(file); err != nil {
		return nil, "", nil, err
	}

	s.Share.Path = filepath.Dir(file)
	opts, err := s.ShareOptions()
	if err != nil {
		return nil, "", nil, err
	}
	opts.ReadOnly = true

	store, err := storage.Open(s.Posix.XattrBackend, s.Posix.EADB)
	if err != nil {
		return nil, "", nil, fmt.Errorf("failed to open attribute store: %w", err)
	}
	share, err := pvfs.New(opts, pvfs.Deps{Store: store})
	if err != nil {
		store.Close()
		return nil, "", nil, err
	}
	conn := share.Connect(nil)
	cleanup := func() {
		conn.Disconnect()
		share.Close()
		store.Close()
	}
	return conn, filepath.Base(file) + stream, cleanup, nil
}

func localRequest() *ntvfs.Request {
	id := ntvfs.Identity{UID: uint32(os.Getuid()), GID: uint32(os.Getgid())}
	return ntvfs.NewRequest(context.Background(), id, 0, 0)
}

func runStreams(cmd *cobra.Command, args []string) error {
	conn, wire, cleanup, err := localShare(args[0])
	if err != nil {
		return err
	}
	defer cleanup()

	streams, err := conn.QueryPathStreams(localRequest(), wire)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	for _, st := range streams {
		fmt.Fprintf(out, "%-32s %12d %12d\n", st.Name, st.Size, st.AllocSize)
	}
	return nil
}

var attrLetters = []struct {
	bit    uint32
	letter byte
}{
	{ntvfs.AttrReadOnly, 'R'},
	{ntvfs.AttrHidden, 'H'},
	{ntvfs.AttrSystem, 'S'},
	{ntvfs.AttrDirectory, 'D'},
	{ntvfs.AttrArchive, 'A'},
	{ntvfs.AttrNormal, 'N'},
	{ntvfs.AttrTemporary, 'T'},
	{ntvfs.AttrSparse, 'P'},
	{ntvfs.AttrOffline, 'O'},
	{ntvfs.AttrNotContentIndexed, 'I'},
}

// formatAttrib renders DOS attributes the way "attrib" does, "-" for
// clear bits.
func formatAttrib(attrib uint32) string {
	b := make([]byte, len(attrLetters))
	for i, a := range attrLetters {
		b[i] = '-'
		if attrib&a.bit != 0 {
			b[i] = a.letter
		}
	}
	return string(b)
}

func runDosattr(cmd *cobra.Command, args []string) error {
	conn, wire, cleanup, err := localShare(args[0])
	if err != nil {
		return err
	}
	defer cleanup()

	info, err := conn.QueryPathInfo(localRequest(), wire)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Name:        %s\n", info.Name)
	fmt.Fprintf(out, "Short name:  %s\n", info.AltName)
	fmt.Fprintf(out, "Attributes:  %s (0x%04x)\n", formatAttrib(info.Attrib), info.Attrib)
	fmt.Fprintf(out, "Size:        %d (allocated %d)\n", info.Size, info.AllocSize)
	fmt.Fprintf(out, "Created:     %s\n", info.CreateTime.Time())
	fmt.Fprintf(out, "Modified:    %s\n", info.WriteTime.Time())
	fmt.Fprintf(out, "File ID:     0x%x\n", info.FileID)
	fmt.Fprintf(out, "EA size:     %d\n", info.EASize)
	return nil
}
