package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/cyflash/cyflash/internal/bootclient"
	"github.com/cyflash/cyflash/internal/image"
	"github.com/cyflash/cyflash/internal/protocol"
	"github.com/cyflash/cyflash/internal/session"
	"github.com/cyflash/cyflash/internal/transport"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var log = logrus.New()

// errUsage marks a flag-validation failure, distinguishing a usage error
// (exit code 2) from a flashing failure (exit code 1).
var errUsage = errors.New("usage error")

var (
	serialPort   string
	canInterface string

	eraseFlag      bool
	serialBaud     int
	parityFlag     string
	stopBitsFlag   string
	timeoutFlag    time.Duration
	downgradeFlag  bool
	nodowngrade    bool
	newappFlag     bool
	nonewappFlag   bool
	chunkSizeFlag  int
	retrySecsFlag  int
	checksumFlag   string
	appIndexFlag   uint8

	canBaud        int
	canID          string
	canBroadcastID string
	canWildcardID  string
	canEcho        bool

	verboseFlag bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "cyflash <image.cyacd>",
		Short: "Flash PSoC firmware images over serial or CAN",
		Long: `cyflash programs a .cyacd firmware image onto a Cypress PSoC device
running its factory bootloader, over a serial link or a CAN bus.`,
		Args: cobra.ExactArgs(1),
		RunE: runFlash,
	}

	rootCmd.Flags().StringVar(&serialPort, "serial", "", "serial port device (e.g. /dev/ttyUSB0)")
	rootCmd.Flags().StringVar(&canInterface, "canbus", "", "SocketCAN interface name (e.g. can0)")

	rootCmd.Flags().BoolVar(&eraseFlag, "erase", false, "erase each row before programming it")
	rootCmd.Flags().IntVar(&serialBaud, "serial_baudrate", 115200, "serial baud rate")
	rootCmd.Flags().StringVar(&parityFlag, "parity", "none", "serial parity: none, odd, even, mark, space")
	rootCmd.Flags().StringVar(&stopBitsFlag, "stopbits", "1", "serial stop bits: 1, 1.5, 2")
	rootCmd.Flags().DurationVar(&timeoutFlag, "timeout", 5*time.Second, "per-command response timeout")
	rootCmd.Flags().BoolVar(&downgradeFlag, "downgrade", false, "allow flashing an older application version")
	rootCmd.Flags().BoolVar(&nodowngrade, "nodowngrade", false, "refuse to flash an older application version")
	rootCmd.Flags().BoolVar(&newappFlag, "newapp", false, "allow flashing a different application id")
	rootCmd.Flags().BoolVar(&nonewappFlag, "nonewapp", false, "refuse to flash a different application id")
	rootCmd.Flags().IntVarP(&chunkSizeFlag, "chunk-size", "c", bootclient.DefaultChunkSize, "max bytes per SendData chunk when streaming a row (16, 32, 64, or 128)")
	rootCmd.Flags().IntVarP(&retrySecsFlag, "retries", "r", 2, "seconds to reissue EnterBootloader before giving up: 0 = single try, negative = retry until canceled")
	rootCmd.Flags().StringVar(&checksumFlag, "checksum", "sum", "frame checksum algorithm: sum or crc16")
	rootCmd.Flags().Uint8Var(&appIndexFlag, "app", 0, "application index to query/flash")

	rootCmd.Flags().IntVar(&canBaud, "canbus_baudrate", 500000, "CAN bus bit rate, for logging only (configure the interface itself beforehand)")
	rootCmd.Flags().StringVar(&canID, "canbus_id", "0x100", "CAN arbitration id used to address the device")
	rootCmd.Flags().StringVar(&canBroadcastID, "canbus_broadcast_id", "0x7FF", "CAN arbitration id the device may reply on when broadcast-addressed")
	rootCmd.Flags().StringVar(&canWildcardID, "canbus_wildcard_id", "0x000", "CAN arbitration id accepted regardless of device/broadcast id (0 disables it)")
	rootCmd.Flags().BoolVar(&canEcho, "canbus_echo", false, "wait for the bus to echo each transmitted frame before sending the next")

	rootCmd.Flags().BoolVarP(&verboseFlag, "verbose", "v", false, "enable debug logging")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List available serial ports",
		RunE:  runList,
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Show version info",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("cyflash %s\n", version)
			fmt.Printf("  commit: %s\n", commit)
			fmt.Printf("  built:  %s\n", date)
		},
	}

	rootCmd.AddCommand(listCmd, versionCmd)
	rootCmd.SilenceUsage = true

	if err := rootCmd.Execute(); err != nil {
		if errors.Is(err, errUsage) {
			log.Error(err)
			os.Exit(2)
		}
		log.Error(err)
		os.Exit(1)
	}
}

func runFlash(cmd *cobra.Command, args []string) error {
	if verboseFlag {
		log.SetLevel(logrus.DebugLevel)
	}

	if (serialPort == "") == (canInterface == "") {
		return fmt.Errorf("%w: exactly one of --serial or --canbus is required", errUsage)
	}
	if downgradeFlag && nodowngrade {
		return fmt.Errorf("%w: --downgrade and --nodowngrade are mutually exclusive", errUsage)
	}
	if newappFlag && nonewappFlag {
		return fmt.Errorf("%w: --newapp and --nonewapp are mutually exclusive", errUsage)
	}
	if !bootclient.IsValidChunkSize(chunkSizeFlag) {
		return fmt.Errorf("%w: --chunk-size must be one of %v", errUsage, bootclient.ValidChunkSizes)
	}

	img, err := image.Parse(args[0])
	if err != nil {
		return fmt.Errorf("parsing firmware image: %w", err)
	}
	log.Infof("loaded image: silicon 0x%08X rev 0x%02X, %d rows", img.SiliconID, img.SiliconRev, len(img.Rows))

	kind, err := parseChecksumKind(checksumFlag)
	if err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}

	tr, err := openTransport(cmd.Context())
	if err != nil {
		return err
	}
	defer tr.Close()

	client := bootclient.New(tr, kind,
		bootclient.WithChunkSize(chunkSizeFlag),
		bootclient.WithTimeout(timeoutFlag),
	)

	bar := progressbar.NewOptions(len(img.Rows),
		progressbar.OptionSetDescription("flashing"),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowCount(),
		progressbar.OptionThrottle(100),
		progressbar.OptionClearOnFinish(),
	)

	opts := session.Options{
		EraseBeforeProgram: eraseFlag,
		EnterDuration:      time.Duration(retrySecsFlag) * time.Second,
		RowRetries:         3,
		MaxPacketErrors:    25,
		AppIndex:           appIndexFlag,
		Confirm:            promptConfirm,
		OnEvent: func(ev session.Event) {
			switch e := ev.(type) {
			case session.EnteredBootloader:
				log.Infof("device identity: silicon 0x%08X rev 0x%02X, bootloader 0x%06X", e.SiliconID, e.SiliconRev, e.BootloaderVersion)
			case session.ArrayRange:
				log.Debugf("array %d flash range [%d, %d]", e.ArrayID, e.First, e.Last)
			case session.Erasing:
				bar.Describe("erasing")
				bar.Set(e.Row)
			case session.Programming:
				bar.Describe("flashing")
				bar.Set(e.Row)
			case session.MetadataUnsupported:
				log.Infof("%s, skipping metadata check", e.Reason)
			case session.Verified:
				log.Infof("application checksum verified: %v", e.OK)
			case session.Rebooting:
				log.Info("rebooting into application")
			}
		},
	}
	if downgradeFlag {
		t := true
		opts.Downgrade = &t
	} else if nodowngrade {
		f := false
		opts.Downgrade = &f
	}
	if newappFlag {
		t := true
		opts.NewApp = &t
	} else if nonewappFlag {
		f := false
		opts.NewApp = &f
	}

	if err := session.Run(cmd.Context(), client, img, opts); err != nil {
		return fmt.Errorf("flashing failed: %w", err)
	}
	bar.Finish()

	fmt.Println("done")
	return nil
}

func openTransport(ctx context.Context) (transport.Transport, error) {
	if serialPort != "" {
		parity, err := parseParity(parityFlag)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", errUsage, err)
		}
		stopBits, err := parseStopBits(stopBitsFlag)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", errUsage, err)
		}
		log.Infof("opening %s at %d baud", serialPort, serialBaud)
		return transport.OpenSerial(transport.SerialOptions{
			PortName: serialPort,
			BaudRate: serialBaud,
			Parity:   parity,
			StopBits: stopBits,
		})
	}

	deviceID, err := parseCANID(canID)
	if err != nil {
		return nil, fmt.Errorf("%w: canbus_id: %v", errUsage, err)
	}
	broadcastID, err := parseCANID(canBroadcastID)
	if err != nil {
		return nil, fmt.Errorf("%w: canbus_broadcast_id: %v", errUsage, err)
	}
	wildcardID, err := parseCANID(canWildcardID)
	if err != nil {
		return nil, fmt.Errorf("%w: canbus_wildcard_id: %v", errUsage, err)
	}

	log.Infof("opening %s at %d bit/s, device id 0x%03X", canInterface, canBaud, deviceID)
	return transport.OpenCAN(ctx, transport.CANOptions{
		Interface:   canInterface,
		DeviceID:    deviceID,
		BroadcastID: broadcastID,
		WildcardID:  wildcardID,
		Echo:        canEcho,
		SendDelay:   10 * time.Millisecond,
	})
}

func parseChecksumKind(s string) (protocol.ChecksumKind, error) {
	switch strings.ToLower(s) {
	case "sum", "sum2complement", "":
		return protocol.ChecksumSum2Complement, nil
	case "crc16", "crc16-ccitt":
		return protocol.ChecksumCRC16CCITT, nil
	default:
		return 0, fmt.Errorf("unknown checksum algorithm %q", s)
	}
}

func parseParity(s string) (transport.Parity, error) {
	switch strings.ToLower(s) {
	case "none", "":
		return transport.ParityNone, nil
	case "odd":
		return transport.ParityOdd, nil
	case "even":
		return transport.ParityEven, nil
	case "mark":
		return transport.ParityMark, nil
	case "space":
		return transport.ParitySpace, nil
	default:
		return 0, fmt.Errorf("unknown parity %q", s)
	}
}

func parseStopBits(s string) (transport.StopBits, error) {
	switch s {
	case "1", "":
		return transport.StopBits1, nil
	case "1.5":
		return transport.StopBits1Half, nil
	case "2":
		return transport.StopBits2, nil
	default:
		return 0, fmt.Errorf("unknown stop bits %q", s)
	}
}

func parseCANID(s string) (uint32, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "0x")
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return 0, err
	}
	return uint32(v), nil
}

func promptConfirm(_ context.Context, prompt string) (bool, error) {
	fmt.Printf("%s [y/N]: ", prompt)
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return false, err
	}
	line = strings.TrimSpace(strings.ToLower(line))
	return line == "y" || line == "yes", nil
}

func runList(cmd *cobra.Command, args []string) error {
	ports, err := transport.ListSerialPorts()
	if err != nil {
		return err
	}
	if len(ports) == 0 {
		fmt.Println("no serial ports found")
		return nil
	}
	fmt.Println("available serial ports:")
	for _, p := range ports {
		fmt.Printf("  %s\n", p)
	}
	return nil
}
