package main

import (
	"fmt"

	"github.com/zsiec/rtpnode/internal/config"
	"github.com/zsiec/rtpnode/internal/logger"
	"github.com/zsiec/rtpnode/internal/rtprtcp"
)

// buildNode creates a node in the Created state from the node section.
func buildNode(cfg *config.Config, observer rtprtcp.Observer, log logger.Logger) (*rtprtcp.Node, error) {
	mode, err := rtprtcp.ParseNTPMode(cfg.Node.NTPMode)
	if err != nil {
		return nil, err
	}

	return rtprtcp.NewNode(rtprtcp.Config{
		ReceiverReportInterval: cfg.Node.ReceiverReportInterval,
		ReceiverSSRC:           cfg.Node.ReceiverSSRC,
		NTPMode:                mode,
		JitterBufferSize:       cfg.Node.Jitter.MaxPackets,
		MaxReorder:             cfg.Node.Jitter.MaxReorder,
	}, observer, log), nil
}

// prepareAndStart binds lower, registers every configured track and starts
// the node.
func prepareAndStart(node *rtprtcp.Node, lower rtprtcp.Transport, tracks []config.TrackConfig) error {
	if err := node.Prepare(lower); err != nil {
		return fmt.Errorf("failed to prepare node: %w", err)
	}

	for _, tc := range tracks {
		if tc.Format != "" {
			format, err := rtprtcp.ParseBitstreamFormat(tc.Format)
			if err != nil {
				return fmt.Errorf("track %d: %w", tc.PayloadType, err)
			}
			track := &rtprtcp.Track{PayloadType: tc.PayloadType, Format: format, ClockRate: tc.ClockRate}
			if err := node.AddReceiver(tc.PayloadType, track); err != nil {
				return fmt.Errorf("track %d: %w", tc.PayloadType, err)
			}
		}
		if tc.SendReports {
			if err := node.AddSenderReportScheduler(tc.PayloadType, tc.SenderSSRC, tc.ClockRate); err != nil {
				return fmt.Errorf("track %d: %w", tc.PayloadType, err)
			}
		}
	}

	if err := node.Start(); err != nil {
		return fmt.Errorf("failed to start node: %w", err)
	}
	return nil
}
