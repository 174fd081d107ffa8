package chivemaster

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/lmittmann/tint"
)

// checkVerifications runs one pass over all pending verification requests,
// oldest first. Expired requests are discarded; for the rest, the player's
// profile is refreshed and the bio signature checked for the request's
// one-time code. A matching signature promotes the request to a verified
// connection and immediately reconciles the user's roles.
//
// A delay between requests keeps the profile service from being hammered
// when the queue is long.
func (u *Updater) checkVerifications(ctx context.Context) error {
	requests, err := u.db.VerificationRequests(ctx)
	if err != nil {
		return fmt.Errorf("error loading verification requests: %w", err)
	}
	if len(requests) == 0 {
		return nil
	}

	thresholds, err := u.db.RoleThresholds(ctx)
	if err != nil {
		return fmt.Errorf("error loading role thresholds: %w", err)
	}

	for i, request := range requests {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if i > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(u.config.VerificationDelay):
			}
		}

		if err = u.checkVerification(ctx, request, thresholds); err != nil {
			u.logger.Warn(
				"verification check failed",
				tint.Err(err),
				"request", request,
			)
		}
	}
	return nil
}

func (u *Updater) checkVerification(
	ctx context.Context,
	request VerificationRequest,
	thresholds []RoleThreshold,
) error {
	if request.Age() > u.config.VerificationExpiry {
		u.logger.Info("discarding expired verification request", "request", request)
		if err := u.db.DeleteVerificationRequest(ctx, request.ExternalID); err != nil {
			return fmt.Errorf("error deleting expired request: %w", err)
		}
		if dmErr := u.discord.directMessage(
			request.UserID,
			fmt.Sprintf(
				"Your verification request for `%d` expired. "+
					"Use `/register` to start over.",
				request.ExternalID,
			),
		); dmErr != nil {
			u.logger.Debug(
				"unable to DM expiry notice",
				tint.Err(dmErr),
				"request", request,
			)
		}
		return nil
	}

	// force a fresh profile read so a just-edited bio is seen
	score, err := u.profile.Put(ctx, request.ExternalID)
	if err != nil {
		return fmt.Errorf("error refreshing profile: %w", err)
	}

	if !strings.HasSuffix(score.Signature, request.OTP) {
		return nil
	}

	return u.promoteVerification(ctx, request, score, thresholds)
}

// promoteVerification converts a matched verification request into a
// connection, deletes the request, and applies the user's roles right away
// rather than waiting for the next sweep.
func (u *Updater) promoteVerification(
	ctx context.Context,
	request VerificationRequest,
	score *ProfileScore,
	thresholds []RoleThreshold,
) error {
	connection := Connection{
		ExternalID: request.ExternalID,
		UserID:     request.UserID,
	}
	if err := u.db.SaveConnection(ctx, &connection); err != nil {
		return fmt.Errorf("error saving connection: %w", err)
	}
	if err := u.db.DeleteVerificationRequest(ctx, request.ExternalID); err != nil {
		return fmt.Errorf("error deleting verification request: %w", err)
	}
	u.logger.Info(
		"verified connection",
		"connection", connection,
		"name", score.Name,
	)

	if len(thresholds) > 0 {
		if err := u.updateMemberRoles(
			ctx,
			request.UserID,
			thresholds,
			map[string]bool{},
		); err != nil {
			u.logger.Warn(
				"unable to apply roles after verification",
				tint.Err(err),
				"connection", connection,
			)
		}
	}

	if err := u.discord.directMessage(
		request.UserID,
		fmt.Sprintf(
			"**%s** (`%d`) is now verified! "+
				"You can remove the code from your bio.",
			score.Name,
			request.ExternalID,
		),
	); err != nil {
		u.logger.Debug(
			"unable to DM verification notice",
			tint.Err(err),
			"connection", connection,
		)
	}
	return nil
}
